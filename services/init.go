package services

import (
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/internal/credential"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/repository"
	"github.com/customeros/exchangestack/services/events"
	"github.com/customeros/exchangestack/services/exchange"
)

type Services struct {
	EventsService   *events.EventsService
	ExchangeService *exchange.ExchangeService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	tokens, err := credential.Open(*cfg.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, "opening credential store")
	}

	services := Services{
		ExchangeService: exchange.NewExchangeService(cfg, repos, tokens, log),
	}

	if cfg.AppConfig.RabbitMQURL == "" {
		log.Warn("RABBITMQ_URL is not set, mail events will not be published")
		return &services, nil
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, nil, nil)
	if err != nil {
		return nil, err
	}
	services.EventsService = eventsService
	services.ExchangeService.SetPublisher(eventsService.Publisher)

	return &services, nil
}
