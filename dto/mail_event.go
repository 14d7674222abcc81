package dto

import (
	"time"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/request"
)

// MailboxChanged is published for every change the reconciliation of an
// exchange account observes.
type MailboxChanged struct {
	AccountID   string             `json:"accountId"`
	Protocol    string             `json:"protocol"`
	FolderID    string             `json:"folderId,omitempty"`
	ItemID      string             `json:"itemId,omitempty"`
	EventType   enum.MailEventType `json:"eventType"`
	InitialSync bool               `json:"initialSync"`
	Subject     string             `json:"subject,omitempty"`
	From        string             `json:"from,omitempty"`
	Received    *time.Time         `json:"received,omitempty"`
	IsRead      bool               `json:"isRead"`
}

// SendEmail asks the account AccountID to send Email.
type SendEmail struct {
	AccountID string        `json:"accountId"`
	Email     request.EMail `json:"email"`
}
