package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	er "github.com/customeros/exchangestack/internal/errors"
	"github.com/customeros/exchangestack/internal/exchange/auth"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/models"
	"github.com/customeros/exchangestack/internal/repository"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/internal/utils"
)

const (
	initialLoginBackoff = time.Second
	maxLoginBackoff     = 2 * time.Minute
	stopTimeout         = 10 * time.Second
)

// MailboxPublisher forwards mail events to other services.
type MailboxPublisher interface {
	PublishMailboxChanged(ctx context.Context, message dto.MailboxChanged) error
}

type posterFactory func(timeout time.Duration) (transport.Poster, error)

func httpPoster(timeout time.Duration) (transport.Poster, error) {
	p, err := transport.NewHTTPPoster(timeout)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// supervised is an account together with the goroutine keeping it connected.
type supervised struct {
	model   *models.ExchangeAccount
	account Account
	cancel  context.CancelFunc
	// wake interrupts a login wait or backoff.
	wake chan struct{}

	mu        sync.RWMutex
	status    enum.ConnectionStatus
	loggedOut bool
}

func (s *supervised) setLoggedOut(v bool) {
	s.mu.Lock()
	s.loggedOut = v
	s.mu.Unlock()
}

func (s *supervised) isLoggedOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedOut
}

func (s *supervised) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type ExchangeService struct {
	repositories *repository.Repositories
	cfg          *config.ExchangeConfig
	publicURL    string
	tokens       auth.TokenStore
	log          logger.Logger
	newPoster    posterFactory

	handlerMu    sync.RWMutex
	eventHandler func(context.Context, interfaces.MailEvent)
	publisher    MailboxPublisher

	mu          sync.RWMutex
	accounts    map[string]*supervised
	oauthStates map[string]string
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewExchangeService(cfg *config.Config, repos *repository.Repositories, tokens auth.TokenStore, log logger.Logger) *ExchangeService {
	exchangeConfig := cfg.ExchangeConfig
	if exchangeConfig == nil {
		exchangeConfig = &config.ExchangeConfig{}
	}
	publicURL := ""
	if cfg.AppConfig != nil {
		publicURL = strings.TrimSuffix(cfg.AppConfig.PublicURL, "/")
	}
	if tokens == nil {
		tokens = auth.NewMemoryTokenStore()
	}
	return &ExchangeService{
		repositories: repos,
		cfg:          exchangeConfig,
		publicURL:    publicURL,
		tokens:       tokens,
		log:          log,
		newPoster:    httpPoster,
		accounts:     make(map[string]*supervised),
		oauthStates:  make(map[string]string),
	}
}

// SetEventHandler sets the event handler
func (s *ExchangeService) SetEventHandler(handler func(context.Context, interfaces.MailEvent)) {
	s.handlerMu.Lock()
	s.eventHandler = handler
	s.handlerMu.Unlock()
}

// SetPublisher makes every mail event also go out as dto.MailboxChanged.
func (s *ExchangeService) SetPublisher(publisher MailboxPublisher) {
	s.handlerMu.Lock()
	s.publisher = publisher
	s.handlerMu.Unlock()
}

// Start connects every enabled stored account.
func (s *ExchangeService) Start(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "ExchangeService.Start")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	accounts, err := s.repositories.ExchangeAccountRepository.GetAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogFields(tracingLog.Int("account_count", len(accounts)))

	for _, model := range accounts {
		if !model.Enabled {
			continue
		}
		if err := s.register(model); err != nil {
			s.log.Errorf("[%s] could not start account %s: %v", model.ID, model.EmailAddress, err)
			_ = s.repositories.ExchangeAccountRepository.UpdateConnectionStatus(ctx, model.ID, enum.ConnectionFailed, err.Error())
		}
	}
	s.log.Infof("Exchange service started with %d accounts", len(s.Status()))
	return nil
}

// Stop gracefully shuts down the service
func (s *ExchangeService) Stop() error {
	s.log.Info("Stopping exchange service...")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All exchange accounts stopped gracefully")
	case <-time.After(stopTimeout):
		s.log.Warn("Timeout waiting for exchange accounts to stop")
	}
	return nil
}

// AddAccount stores a new account and connects it when the service runs.
func (s *ExchangeService) AddAccount(ctx context.Context, model *models.ExchangeAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.AddAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if model == nil {
		err := errors.Wrap(er.ErrInvalidAccount, "account is nil")
		tracing.TraceErr(span, err)
		return err
	}
	if err := validateAccount(model); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	existing, err := s.repositories.ExchangeAccountRepository.GetAccountByEmail(ctx, model.EmailAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if existing != nil && existing.ID != model.ID {
		err := errors.Wrapf(er.ErrAccountExists, "email %s", model.EmailAddress)
		tracing.TraceErr(span, err)
		return err
	}
	if model.ConnectionStatus == "" {
		model.ConnectionStatus = enum.ConnectionPending
	}
	if err := s.repositories.ExchangeAccountRepository.SaveAccount(ctx, model); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagAccount(span, model.ID)

	if !model.Enabled {
		return nil
	}
	if err := s.register(model); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// RemoveAccount stops the account, forgets its credential and deletes
// everything stored about it.
func (s *ExchangeService) RemoveAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.RemoveAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	sup, ok := s.accounts[accountID]
	delete(s.accounts, accountID)
	s.mu.Unlock()

	if ok {
		sup.cancel()
		if err := sup.account.Logout(ctx); err != nil {
			s.log.Warnf("[%s] logout on removal failed: %v", accountID, err)
		}
		accountsRunning.Dec()
	}

	if err := s.repositories.FolderSyncRepository.DeleteAccountSyncStates(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.repositories.ExchangeAccountRepository.DeleteAccount(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Status returns the current status of all accounts
func (s *ExchangeService) Status() map[string]interfaces.AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]interfaces.AccountStatus, len(s.accounts))
	for id, sup := range s.accounts {
		status := sup.account.Status()
		sup.mu.RLock()
		status.Status = sup.status
		sup.mu.RUnlock()
		result[id] = status
	}
	return result
}

// ResyncAll refreshes the folder hierarchy of every logged in account and
// pulls changes of every folder synced before.
func (s *ExchangeService) ResyncAll(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "ExchangeService.ResyncAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	limit := s.cfg.ResyncConcurrency
	if limit <= 0 {
		limit = 5
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, sup := range s.snapshot() {
		account := sup.account
		if !account.IsLoggedIn() {
			continue
		}
		g.Go(func() error {
			return s.resync(ctx, account)
		})
	}
	if err := g.Wait(); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *ExchangeService) resync(ctx context.Context, account Account) error {
	if err := account.RefreshFolders(ctx); err != nil {
		return errors.Wrapf(err, "account %s", account.ID())
	}
	list, err := account.ListFolders(ctx)
	if err != nil {
		return errors.Wrapf(err, "account %s", account.ID())
	}
	for _, f := range list {
		if f.LastSync.IsZero() {
			continue
		}
		if err := account.UpdateChangedMessages(ctx, f.ID); err != nil {
			return errors.Wrapf(err, "account %s folder %s", account.ID(), f.Path)
		}
	}
	return nil
}

// Login logs in interactively and wakes the account's connection loop.
func (s *ExchangeService) Login(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.Login")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	sup, err := s.get(accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := sup.account.Login(ctx, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	sup.setLoggedOut(false)
	sup.signal()
	return nil
}

// Logout stops the account's notification stream and drops its credential.
// It stays disconnected until Login or CompleteAuthorization.
func (s *ExchangeService) Logout(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.Logout")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	sup, err := s.get(accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	sup.setLoggedOut(true)
	if err := sup.account.Logout(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.setStatus(ctx, sup, enum.ConnectionStopped, nil)
	return nil
}

// AuthorizeURL starts an authorization code flow for an OAuth2 account.
func (s *ExchangeService) AuthorizeURL(accountID string) (string, error) {
	sup, err := s.get(accountID)
	if err != nil {
		return "", err
	}
	o, ok := sup.account.Authenticator().(*auth.OAuth2)
	if !ok {
		return "", er.ErrOAuthDisabled
	}
	state := utils.GenerateNanoID(32)
	s.mu.Lock()
	s.oauthStates[state] = accountID
	s.mu.Unlock()
	return o.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges the code of an authorization code flow
// started by AuthorizeURL and wakes the account's connection loop.
func (s *ExchangeService) CompleteAuthorization(ctx context.Context, accountID, state, code string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.CompleteAuthorization")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	expected, ok := s.oauthStates[state]
	if ok {
		delete(s.oauthStates, state)
	}
	s.mu.Unlock()
	if !ok || expected != accountID {
		err := errors.New("unknown or expired authorization state")
		tracing.TraceErr(span, err)
		return err
	}

	sup, err := s.get(accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	o, ok := sup.account.Authenticator().(*auth.OAuth2)
	if !ok {
		return er.ErrOAuthDisabled
	}
	if err := o.Exchange(ctx, code); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	sup.setLoggedOut(false)
	sup.signal()
	return nil
}

// Send validates email and sends it from the account. A missing sender is
// filled in from the account.
func (s *ExchangeService) Send(ctx context.Context, accountID string, email *request.EMail) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExchangeService.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	sup, err := s.get(accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if email == nil || len(email.Recipients()) == 0 {
		tracing.TraceErr(span, er.ErrNoRecipients)
		return er.ErrNoRecipients
	}
	if email.From.EmailAddress == "" {
		email.From = request.Person{Name: sup.model.DisplayName, EmailAddress: sup.model.EmailAddress}
	}
	if err := cleanPeople(email); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogFields(tracingLog.Int("recipients", len(email.Recipients())))

	if err := sup.account.Send(ctx, email); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *ExchangeService) ListFolders(ctx context.Context, accountID string) ([]folders.FolderInfo, error) {
	sup, err := s.get(accountID)
	if err != nil {
		return nil, err
	}
	return sup.account.ListFolders(ctx)
}

func (s *ExchangeService) ListMessages(ctx context.Context, accountID, folderID string) ([]folders.Message, error) {
	sup, err := s.get(accountID)
	if err != nil {
		return nil, err
	}
	return sup.account.ListMessages(ctx, folderID)
}

func (s *ExchangeService) DeleteMessages(ctx context.Context, accountID, folderID string, itemIDs ...string) error {
	sup, err := s.get(accountID)
	if err != nil {
		return err
	}
	return sup.account.DeleteMessages(ctx, folderID, itemIDs...)
}

func (s *ExchangeService) MarkRead(ctx context.Context, accountID, folderID, itemID string, read bool) error {
	sup, err := s.get(accountID)
	if err != nil {
		return err
	}
	return sup.account.MarkRead(ctx, folderID, itemID, read)
}

func (s *ExchangeService) get(accountID string) (*supervised, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sup, ok := s.accounts[accountID]
	if !ok {
		return nil, errors.Wrapf(er.ErrAccountNotRunning, "account %s", accountID)
	}
	return sup, nil
}

func (s *ExchangeService) snapshot() []*supervised {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*supervised, 0, len(s.accounts))
	for _, sup := range s.accounts {
		out = append(out, sup)
	}
	return out
}

// register builds the account for model and, once the service is started,
// runs its connection loop.
func (s *ExchangeService) register(model *models.ExchangeAccount) error {
	account, err := s.buildAccount(model)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[model.ID]; exists {
		return errors.Wrapf(er.ErrAccountExists, "account %s", model.ID)
	}
	sup := &supervised{
		model:   model,
		account: account,
		wake:    make(chan struct{}, 1),
		status:  enum.ConnectionPending,
		cancel:  func() {},
	}
	s.accounts[model.ID] = sup
	accountsRunning.Inc()

	if s.ctx != nil {
		ctx, cancel := context.WithCancel(s.ctx)
		sup.cancel = cancel
		s.wg.Add(1)
		go s.runAccount(ctx, sup)
	}
	return nil
}

func (s *ExchangeService) buildAccount(model *models.ExchangeAccount) (Account, error) {
	if err := validateAccount(model); err != nil {
		return nil, err
	}
	authenticator, err := s.authenticatorFor(model)
	if err != nil {
		return nil, err
	}
	poster, err := s.newPoster(time.Duration(s.cfg.RequestTimeout) * time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "creating http poster")
	}

	clientOptions := transport.Options{
		URL:           model.URL,
		AccountID:     model.ID,
		Poster:        poster,
		Authenticator: authenticator,
		Logger:        s.log,
		ServerVersion: s.cfg.ServerVersion,
	}
	opts := accountOptions{
		ID:            model.ID,
		Logger:        s.log,
		SyncStates:    s.repositories.FolderSyncRepository,
		MinBackoff:    time.Duration(s.cfg.MinReconnectBackoff) * time.Second,
		StreamTimeout: s.cfg.StreamTimeoutMinutes,
		Pacing:        time.Duration(s.cfg.OWAPacing) * time.Millisecond,
		OnEvent:       s.dispatch,
	}

	switch model.Protocol {
	case enum.ProtocolEWS:
		opts.Client = transport.NewEWSClient(clientOptions)
		return newEWSAccount(opts), nil
	case enum.ProtocolOWA:
		opts.Client = transport.NewOWAClient(clientOptions)
		cookies, _ := poster.(transport.CookieSource)
		return newOWAAccount(opts, cookies), nil
	}
	return nil, errors.Wrapf(er.ErrInvalidAccount, "unsupported protocol %q", model.Protocol)
}

func (s *ExchangeService) authenticatorFor(model *models.ExchangeAccount) (auth.Authenticator, error) {
	username := model.Username
	if username == "" {
		username = model.EmailAddress
	}
	switch model.AuthMethod {
	case enum.AuthBasic, "":
		return auth.NewBasic(username, model.Password), nil
	case enum.AuthOAuth2:
		if model.OAuth2ClientID == "" || model.OAuth2TokenURL == "" {
			return nil, errors.Wrap(er.ErrInvalidAccount, "oauth2 client id and token url are required")
		}
		redirectURL := model.OAuth2RedirectURL
		if redirectURL == "" && s.publicURL != "" {
			redirectURL = fmt.Sprintf("%s/v1/accounts/%s/oauth/callback", s.publicURL, model.ID)
		}
		return auth.NewOAuth2(auth.OAuth2Config{
			ClientID:     model.OAuth2ClientID,
			ClientSecret: model.OAuth2ClientSecret,
			AuthURL:      model.OAuth2AuthURL,
			TokenURL:     model.OAuth2TokenURL,
			RedirectURL:  redirectURL,
			Scopes:       model.OAuth2Scopes,
			Username:     username,
			Password:     model.Password,
		}, s.tokens, "exchange:"+model.ID), nil
	}
	return nil, errors.Wrapf(er.ErrInvalidAccount, "unsupported auth method %q", model.AuthMethod)
}

// runAccount keeps one account logged in and listening until ctx is done,
// retrying with backoff.
func (s *ExchangeService) runAccount(ctx context.Context, sup *supervised) {
	defer s.wg.Done()
	id := sup.model.ID
	s.log.Infof("[%s] Starting account monitoring for %s over %s", id, sup.model.EmailAddress, sup.model.Protocol)

	backoff := initialLoginBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if sup.isLoggedOut() {
			if !s.waitForWake(ctx, sup, 0) {
				return
			}
			continue
		}

		connected, err := s.connectAndListen(ctx, sup)
		if ctx.Err() != nil {
			s.setStatus(context.Background(), sup, enum.ConnectionStopped, nil)
			return
		}
		if connected {
			backoff = initialLoginBackoff
		}

		switch {
		case err == nil:
			// Listening ended without an error: the account was logged out.
			continue
		case errors.Is(err, auth.ErrInteractiveLoginRequired):
			s.log.Warnf("[%s] Interactive login required", id)
			s.setStatus(ctx, sup, enum.ConnectionLoginRequired, err)
			if !s.waitForWake(ctx, sup, 0) {
				return
			}
			backoff = initialLoginBackoff
			continue
		}

		s.log.Errorf("[%s] Connection error: %v", id, err)
		s.setStatus(ctx, sup, enum.ConnectionFailed, err)
		s.log.Infof("[%s] Will retry in %v", id, backoff)
		if !s.waitForWake(ctx, sup, backoff) {
			return
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxLoginBackoff {
			backoff = maxLoginBackoff
		}
	}
}

// waitForWake blocks until the account is woken, timeout passes (when
// non-zero) or ctx is done. It reports false for the latter.
func (s *ExchangeService) waitForWake(ctx context.Context, sup *supervised, timeout time.Duration) bool {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-sup.wake:
		return true
	case <-timer:
		return true
	case <-ctx.Done():
		return false
	}
}

// connectAndListen logs in, syncs the configured folders and follows the
// notification stream. connected reports whether login succeeded.
func (s *ExchangeService) connectAndListen(ctx context.Context, sup *supervised) (connected bool, err error) {
	span, ctx := tracing.StartTracerSpan(ctx, "ExchangeService.connectAndListen")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, sup.model.ID)

	account := sup.account
	if err := account.Login(ctx, false); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	s.setStatus(ctx, sup, enum.ConnectionActive, nil)

	list, err := account.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return true, err
	}
	for _, f := range list {
		if !s.syncsFolder(f.SpecialUse) {
			continue
		}
		if err := account.UpdateChangedMessages(ctx, f.ID); err != nil {
			tracing.TraceErr(span, err)
			return true, err
		}
	}
	span.LogFields(tracingLog.String("status", "listening"))

	if err := account.Listen(ctx); err != nil {
		tracing.TraceErr(span, err)
		return true, err
	}
	return true, nil
}

func (s *ExchangeService) syncsFolder(use folders.SpecialUse) bool {
	if use == folders.SpecialNone {
		return false
	}
	for _, name := range s.cfg.SyncFolders {
		if strings.EqualFold(strings.TrimSpace(name), use.String()) {
			return true
		}
	}
	return false
}

func (s *ExchangeService) setStatus(ctx context.Context, sup *supervised, status enum.ConnectionStatus, cause error) {
	sup.mu.Lock()
	sup.status = status
	sup.mu.Unlock()

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	err := s.repositories.ExchangeAccountRepository.UpdateConnectionStatus(ctx, sup.model.ID, status, message)
	if err != nil {
		s.log.Warnf("[%s] could not update connection status: %v", sup.model.ID, err)
	}
}

// dispatch hands an event to the handler and the publisher.
func (s *ExchangeService) dispatch(ctx context.Context, event interfaces.MailEvent) {
	s.handlerMu.RLock()
	handler, publisher := s.eventHandler, s.publisher
	s.handlerMu.RUnlock()

	if handler != nil {
		handler(ctx, event)
	}
	if publisher == nil {
		return
	}
	message := dto.MailboxChanged{
		AccountID:   event.AccountID,
		Protocol:    event.Source,
		FolderID:    event.FolderID,
		ItemID:      event.ItemID,
		EventType:   event.EventType,
		InitialSync: event.InitialSync,
	}
	if m := event.Message; m != nil {
		message.Subject = m.Subject
		message.From = m.From
		message.IsRead = m.IsRead
		if !m.Received.IsZero() {
			received := m.Received
			message.Received = &received
		}
	}
	if err := publisher.PublishMailboxChanged(ctx, message); err != nil {
		s.log.Errorf("[%s] could not publish %s event: %v", event.AccountID, event.EventType, err)
	}
}

func validateAccount(model *models.ExchangeAccount) error {
	switch {
	case !model.Protocol.IsValid():
		return errors.Wrapf(er.ErrInvalidAccount, "unsupported protocol %q", model.Protocol)
	case model.URL == "":
		return errors.Wrap(er.ErrInvalidAccount, "url is required")
	case model.AuthMethod != "" && !model.AuthMethod.IsValid():
		return errors.Wrapf(er.ErrInvalidAccount, "unsupported auth method %q", model.AuthMethod)
	}
	if _, err := utils.CleanEmailAddress(model.EmailAddress); err != nil {
		return errors.Wrapf(er.ErrInvalidEmail, "account email %q", model.EmailAddress)
	}
	return nil
}

// cleanPeople normalizes every address of email in place.
func cleanPeople(email *request.EMail) error {
	clean := func(p *request.Person) error {
		address, err := utils.CleanEmailAddress(p.EmailAddress)
		if err != nil {
			return errors.Wrapf(er.ErrInvalidEmail, "%q", p.EmailAddress)
		}
		p.EmailAddress = address
		return nil
	}
	if err := clean(&email.From); err != nil {
		return err
	}
	for _, list := range [][]request.Person{email.ReplyTo, email.To, email.Cc, email.Bcc} {
		for i := range list {
			if err := clean(&list[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
