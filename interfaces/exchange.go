package interfaces

import (
	"context"
	"time"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/models"
)

type ExchangeService interface {
	Start(ctx context.Context) error
	Stop() error
	AddAccount(ctx context.Context, account *models.ExchangeAccount) error
	RemoveAccount(ctx context.Context, accountID string) error
	Status() map[string]AccountStatus
	ResyncAll(ctx context.Context) error
	SetEventHandler(handler func(ctx context.Context, event MailEvent))

	Login(ctx context.Context, accountID string) error
	Logout(ctx context.Context, accountID string) error
	AuthorizeURL(accountID string) (string, error)
	CompleteAuthorization(ctx context.Context, accountID, state, code string) error

	Send(ctx context.Context, accountID string, email *request.EMail) error
	ListFolders(ctx context.Context, accountID string) ([]folders.FolderInfo, error)
	ListMessages(ctx context.Context, accountID, folderID string) ([]folders.Message, error)
	DeleteMessages(ctx context.Context, accountID, folderID string, itemIDs ...string) error
	MarkRead(ctx context.Context, accountID, folderID, itemID string, read bool) error
}

type AccountStatus struct {
	Protocol    enum.ExchangeProtocol
	Status      enum.ConnectionStatus
	LoggedIn    bool
	Streaming   string
	LastError   string
	Folders     map[string]FolderStats
	LastChecked time.Time
}

type FolderStats struct {
	Name     string
	Total    int
	Unread   int
	Messages int
	LastSync time.Time
}

type MailEvent struct {
	Source      string
	AccountID   string
	FolderID    string
	ItemID      string
	EventType   enum.MailEventType
	InitialSync bool
	Message     *folders.Message
}
