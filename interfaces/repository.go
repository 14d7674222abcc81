package interfaces

import (
	"context"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/models"
)

type ExchangeAccountRepository interface {
	GetAccounts(ctx context.Context) ([]*models.ExchangeAccount, error)
	GetAccount(ctx context.Context, id string) (*models.ExchangeAccount, error)
	GetAccountByEmail(ctx context.Context, emailAddress string) (*models.ExchangeAccount, error)
	SaveAccount(ctx context.Context, account *models.ExchangeAccount) error
	UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error
	DeleteAccount(ctx context.Context, id string) error
}

type FolderSyncRepository interface {
	GetSyncState(ctx context.Context, accountID, folderID string) (*models.FolderSyncState, error)
	SaveSyncState(ctx context.Context, state *models.FolderSyncState) error
	GetAccountSyncStates(ctx context.Context, accountID string) ([]*models.FolderSyncState, error)
	DeleteAccountSyncStates(ctx context.Context, accountID string) error
}
