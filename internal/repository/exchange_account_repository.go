package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/models"
	"github.com/customeros/exchangestack/internal/tracing"
)

type exchangeAccountRepository struct {
	db *gorm.DB
}

func NewExchangeAccountRepository(db *gorm.DB) interfaces.ExchangeAccountRepository {
	return &exchangeAccountRepository{db: db}
}

func (r *exchangeAccountRepository) GetAccounts(ctx context.Context) ([]*models.ExchangeAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.GetAccounts")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.ExchangeAccount
	result := r.db.WithContext(ctx).Order("created_at").Find(&accounts)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, result.Error
	}
	return accounts, nil
}

func (r *exchangeAccountRepository) GetAccount(ctx context.Context, id string) (*models.ExchangeAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.GetAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.ExchangeAccount
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *exchangeAccountRepository) GetAccountByEmail(ctx context.Context, emailAddress string) (*models.ExchangeAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.GetAccountByEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.ExchangeAccount
	err := r.db.WithContext(ctx).First(&account, "email_address = ?", emailAddress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *exchangeAccountRepository) SaveAccount(ctx context.Context, account *models.ExchangeAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.SaveAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if account == nil || account.EmailAddress == "" || account.URL == "" {
		return ErrInvalidInput
	}
	err := r.db.WithContext(ctx).Save(account).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// UpdateConnectionStatus records the outcome of the latest connection attempt.
func (r *exchangeAccountRepository) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.UpdateConnectionStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)
	span.SetTag("status", status.String())

	updates := map[string]interface{}{
		"connection_status": status,
		"error_message":     errorMessage,
		"updated_at":        time.Now(),
	}
	if status == enum.ConnectionActive {
		updates["last_connected"] = time.Now()
	}
	result := r.db.WithContext(ctx).
		Model(&models.ExchangeAccount{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *exchangeAccountRepository) DeleteAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "exchangeAccountRepository.DeleteAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Delete(&models.ExchangeAccount{}, "id = ?", id).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}
