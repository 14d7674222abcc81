package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/utils"
)

type ExchangeAccount struct {
	ID           string                `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Protocol     enum.ExchangeProtocol `gorm:"column:protocol;type:varchar(10);index;not null" json:"protocol"`
	URL          string                `gorm:"column:url;type:varchar(500);not null" json:"url"`
	EmailAddress string                `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`
	DisplayName  string                `gorm:"column:display_name;type:varchar(255)" json:"displayName"`
	// Authentication
	AuthMethod enum.AuthMethod `gorm:"column:auth_method;type:varchar(20);not null;default:basic" json:"authMethod"`
	Username   string          `gorm:"column:username;type:varchar(255)" json:"username"`
	Password   string          `gorm:"column:password;type:varchar(255)" json:"-"`
	// OAuth2 Configuration
	OAuth2ClientID     string         `gorm:"column:oauth2_client_id;type:varchar(255)" json:"oauth2ClientId,omitempty"`
	OAuth2ClientSecret string         `gorm:"column:oauth2_client_secret;type:varchar(255)" json:"-"`
	OAuth2AuthURL      string         `gorm:"column:oauth2_auth_url;type:varchar(500)" json:"oauth2AuthUrl,omitempty"`
	OAuth2TokenURL     string         `gorm:"column:oauth2_token_url;type:varchar(500)" json:"oauth2TokenUrl,omitempty"`
	OAuth2RedirectURL  string         `gorm:"column:oauth2_redirect_url;type:varchar(500)" json:"oauth2RedirectUrl,omitempty"`
	OAuth2Scopes       pq.StringArray `gorm:"column:oauth2_scopes;type:text[]" json:"oauth2Scopes,omitempty"`
	// Status Information
	Enabled          bool                  `gorm:"column:enabled;not null;default:true" json:"enabled"`
	ConnectionStatus enum.ConnectionStatus `gorm:"column:connection_status;type:varchar(50)" json:"connectionStatus"`
	LastConnected    *time.Time            `gorm:"column:last_connected;type:timestamp" json:"lastConnected"`
	ErrorMessage     string                `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName sets the table name
func (ExchangeAccount) TableName() string {
	return "exchange_accounts"
}

func (a *ExchangeAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("exch", 16)
	}
	return nil
}
