package exchange

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	er "github.com/customeros/exchangestack/internal/errors"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/models"
	"github.com/customeros/exchangestack/internal/repository"
)

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) GetAccounts(ctx context.Context) ([]*models.ExchangeAccount, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]*models.ExchangeAccount)
	return accounts, args.Error(1)
}

func (m *mockAccountRepository) GetAccount(ctx context.Context, id string) (*models.ExchangeAccount, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*models.ExchangeAccount)
	return account, args.Error(1)
}

func (m *mockAccountRepository) GetAccountByEmail(ctx context.Context, emailAddress string) (*models.ExchangeAccount, error) {
	args := m.Called(ctx, emailAddress)
	account, _ := args.Get(0).(*models.ExchangeAccount)
	return account, args.Error(1)
}

func (m *mockAccountRepository) SaveAccount(ctx context.Context, account *models.ExchangeAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepository) UpdateConnectionStatus(ctx context.Context, id string, status enum.ConnectionStatus, errorMessage string) error {
	return m.Called(ctx, id, status, errorMessage).Error(0)
}

func (m *mockAccountRepository) DeleteAccount(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockSyncRepository struct {
	mock.Mock
}

func (m *mockSyncRepository) GetSyncState(ctx context.Context, accountID, folderID string) (*models.FolderSyncState, error) {
	args := m.Called(ctx, accountID, folderID)
	state, _ := args.Get(0).(*models.FolderSyncState)
	return state, args.Error(1)
}

func (m *mockSyncRepository) SaveSyncState(ctx context.Context, state *models.FolderSyncState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *mockSyncRepository) GetAccountSyncStates(ctx context.Context, accountID string) ([]*models.FolderSyncState, error) {
	args := m.Called(ctx, accountID)
	states, _ := args.Get(0).([]*models.FolderSyncState)
	return states, args.Error(1)
}

func (m *mockSyncRepository) DeleteAccountSyncStates(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []dto.MailboxChanged
}

func (p *mockPublisher) PublishMailboxChanged(_ context.Context, message dto.MailboxChanged) error {
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.mu.Unlock()
	return nil
}

type serviceFixture struct {
	service  *ExchangeService
	accounts *mockAccountRepository
	syncs    *mockSyncRepository
	poster   *routedPoster
}

func newServiceFixture(t *testing.T, protocol string) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		accounts: &mockAccountRepository{},
		syncs:    &mockSyncRepository{},
		poster:   newRoutedPoster(protocol),
	}
	cfg := &config.Config{
		AppConfig: &config.AppConfig{PublicURL: "https://stack.acme.com/"},
		ExchangeConfig: &config.ExchangeConfig{
			RequestTimeout:       5,
			StreamTimeoutMinutes: 1,
			MinReconnectBackoff:  1,
			SyncFolders:          []string{"inbox"},
			ResyncConcurrency:    2,
		},
	}
	repos := &repository.Repositories{
		ExchangeAccountRepository: f.accounts,
		FolderSyncRepository:      f.syncs,
	}
	f.service = NewExchangeService(cfg, repos, nil, testLogger())
	f.service.newPoster = func(time.Duration) (transport.Poster, error) { return f.poster, nil }
	return f
}

func ewsModel() *models.ExchangeAccount {
	return &models.ExchangeAccount{
		ID:           "exch_1",
		Protocol:     enum.ProtocolEWS,
		URL:          "https://mail.acme.com/EWS/Exchange.asmx",
		EmailAddress: "ann@acme.com",
		DisplayName:  "Ann",
		AuthMethod:   enum.AuthBasic,
		Password:     "secret",
		Enabled:      true,
	}
}

func (f *serviceFixture) add(t *testing.T, model *models.ExchangeAccount) {
	t.Helper()
	f.accounts.On("GetAccountByEmail", mock.Anything, model.EmailAddress).Return(nil, nil).Once()
	f.accounts.On("SaveAccount", mock.Anything, model).Return(nil).Once()
	require.NoError(t, f.service.AddAccount(context.Background(), model))
}

func TestAddAccount_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.ExchangeAccount)
		wantErr error
	}{
		{name: "unknown protocol", mutate: func(m *models.ExchangeAccount) { m.Protocol = "imap" }, wantErr: er.ErrInvalidAccount},
		{name: "missing url", mutate: func(m *models.ExchangeAccount) { m.URL = "" }, wantErr: er.ErrInvalidAccount},
		{name: "bad auth method", mutate: func(m *models.ExchangeAccount) { m.AuthMethod = "ntlm" }, wantErr: er.ErrInvalidAccount},
		{name: "bad email", mutate: func(m *models.ExchangeAccount) { m.EmailAddress = "not-an-address" }, wantErr: er.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, "ews")
			model := ewsModel()
			tt.mutate(model)

			err := f.service.AddAccount(context.Background(), model)

			assert.ErrorIs(t, err, tt.wantErr)
			f.accounts.AssertNotCalled(t, "SaveAccount", mock.Anything, mock.Anything)
		})
	}
}

func TestAddAccount_DuplicateEmail(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.accounts.On("GetAccountByEmail", mock.Anything, model.EmailAddress).Return(&models.ExchangeAccount{ID: "exch_other"}, nil)

	err := f.service.AddAccount(context.Background(), model)

	assert.ErrorIs(t, err, er.ErrAccountExists)
}

func TestAddAccount_RegistersPendingAccount(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()

	f.add(t, model)

	status := f.service.Status()
	require.Contains(t, status, model.ID)
	assert.Equal(t, enum.ConnectionPending, status[model.ID].Status)
	assert.Equal(t, enum.ProtocolEWS, status[model.ID].Protocol)
	assert.Equal(t, enum.ConnectionPending, model.ConnectionStatus)
	f.accounts.AssertExpectations(t)
}

func TestRemoveAccount(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.add(t, model)
	f.syncs.On("DeleteAccountSyncStates", mock.Anything, model.ID).Return(nil)
	f.accounts.On("DeleteAccount", mock.Anything, model.ID).Return(nil)

	require.NoError(t, f.service.RemoveAccount(context.Background(), model.ID))

	assert.NotContains(t, f.service.Status(), model.ID)
	_, err := f.service.ListFolders(context.Background(), model.ID)
	assert.ErrorIs(t, err, er.ErrAccountNotRunning)
	f.syncs.AssertExpectations(t)
	f.accounts.AssertExpectations(t)
}

func TestSend_ValidatesAndFillsSender(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.add(t, model)
	f.poster.on("CreateItem", soapResponse(`<m:CreateItemResponseMessage ResponseClass="Success"><m:ResponseCode>NoError</m:ResponseCode><m:Items/></m:CreateItemResponseMessage>`))
	ctx := context.Background()

	err := f.service.Send(ctx, model.ID, &request.EMail{Subject: "Hi"})
	assert.ErrorIs(t, err, er.ErrNoRecipients)

	err = f.service.Send(ctx, model.ID, &request.EMail{To: []request.Person{{EmailAddress: "broken"}}})
	assert.ErrorIs(t, err, er.ErrInvalidEmail)
	assert.Equal(t, 0, f.poster.count("CreateItem"))

	email := &request.EMail{
		To:      []request.Person{{Name: "Bob", EmailAddress: "bob@acme.com"}},
		Subject: "Quarterly numbers",
		Text:    "Attached.",
	}
	require.NoError(t, f.service.Send(ctx, model.ID, email))

	assert.Equal(t, "ann@acme.com", email.From.EmailAddress)
	assert.Equal(t, "Ann", email.From.Name)
	assert.Equal(t, 1, f.poster.count("CreateItem"))
	assert.Contains(t, f.poster.lastBody("CreateItem"), "bob@acme.com")
}

func TestSend_UnknownAccount(t *testing.T) {
	f := newServiceFixture(t, "ews")

	err := f.service.Send(context.Background(), "exch_missing", &request.EMail{})

	assert.ErrorIs(t, err, er.ErrAccountNotRunning)
}

func TestAuthorizeURL_BasicAccount(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.add(t, model)

	_, err := f.service.AuthorizeURL(model.ID)

	assert.ErrorIs(t, err, er.ErrOAuthDisabled)
}

func TestAuthorizeURL_OAuth2Account(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	model.AuthMethod = enum.AuthOAuth2
	model.Password = ""
	model.OAuth2ClientID = "client-1"
	model.OAuth2AuthURL = "https://login.acme.com/authorize"
	model.OAuth2TokenURL = "https://login.acme.com/token"
	model.OAuth2Scopes = []string{"EWS.AccessAsUser.All", "offline_access"}
	f.add(t, model)

	raw, err := f.service.AuthorizeURL(model.ID)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	query := u.Query()
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "https://stack.acme.com/v1/accounts/exch_1/oauth/callback", query.Get("redirect_uri"))
	assert.True(t, strings.Contains(query.Get("scope"), "offline_access"))
	state := query.Get("state")
	assert.NotEmpty(t, state)

	err = f.service.CompleteAuthorization(context.Background(), model.ID, "forged", "code")
	assert.Error(t, err)
	err = f.service.CompleteAuthorization(context.Background(), "exch_other", state, "code")
	assert.Error(t, err)
}

func TestAddAccount_OAuth2RequiresClient(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	model.AuthMethod = enum.AuthOAuth2
	f.accounts.On("GetAccountByEmail", mock.Anything, model.EmailAddress).Return(nil, nil)
	f.accounts.On("SaveAccount", mock.Anything, model).Return(nil)

	err := f.service.AddAccount(context.Background(), model)

	assert.ErrorIs(t, err, er.ErrInvalidAccount)
}

func TestDispatch_HandlerAndPublisher(t *testing.T) {
	f := newServiceFixture(t, "ews")
	publisher := &mockPublisher{}
	f.service.SetPublisher(publisher)
	var handled []interfaces.MailEvent
	f.service.SetEventHandler(func(_ context.Context, event interfaces.MailEvent) {
		handled = append(handled, event)
	})
	received := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	f.service.dispatch(context.Background(), interfaces.MailEvent{
		Source:      "ews",
		AccountID:   "exch_1",
		FolderID:    "INBOX",
		ItemID:      "M1",
		EventType:   enum.MailEventNew,
		InitialSync: true,
		Message:     &folders.Message{ItemID: "M1", Subject: "Hello", From: "Bob <bob@acme.com>", Received: received},
	})

	require.Len(t, handled, 1)
	require.Len(t, publisher.messages, 1)
	published := publisher.messages[0]
	assert.Equal(t, "exch_1", published.AccountID)
	assert.Equal(t, "ews", published.Protocol)
	assert.Equal(t, enum.MailEventNew, published.EventType)
	assert.True(t, published.InitialSync)
	assert.Equal(t, "Hello", published.Subject)
	require.NotNil(t, published.Received)
	assert.True(t, received.Equal(*published.Received))
}

func TestSyncsFolder(t *testing.T) {
	f := newServiceFixture(t, "ews")
	f.service.cfg.SyncFolders = []string{"Inbox", " sent "}

	assert.True(t, f.service.syncsFolder(folders.SpecialInbox))
	assert.True(t, f.service.syncsFolder(folders.SpecialSent))
	assert.False(t, f.service.syncsFolder(folders.SpecialTrash))
	assert.False(t, f.service.syncsFolder(folders.SpecialNone))
}

func TestStart_ConnectsSyncsAndListens(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.accounts.On("GetAccounts", mock.Anything).Return([]*models.ExchangeAccount{model}, nil)
	f.accounts.On("UpdateConnectionStatus", mock.Anything, model.ID, mock.Anything, mock.Anything).Return(nil)
	f.syncs.On("SaveSyncState", mock.Anything, mock.Anything).Return(nil)

	f.poster.on("GetFolder", soapResponse(ewsGetFolderRoot))
	f.poster.on("FindFolder", soapResponse(ewsFindFolders))
	f.poster.on("SyncFolderItems", ewsSync("S1", true, ewsCreate("M1", "k1", "Hello", false)))
	f.poster.on("Subscribe", soapResponse(`<m:SubscribeResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:SubscriptionId>SUB-1</m:SubscriptionId>
</m:SubscribeResponseMessage>`))
	f.poster.on("GetStreamingEvents", streamingEnvelope("OK", ""))

	require.NoError(t, f.service.Start(context.Background()))
	defer f.service.Stop()

	assert.Eventually(t, func() bool {
		return f.poster.count("GetStreamingEvents") > 0
	}, 5*time.Second, 20*time.Millisecond)

	status := f.service.Status()[model.ID]
	assert.Equal(t, enum.ConnectionActive, status.Status)
	assert.True(t, status.LoggedIn)
	assert.Equal(t, 1, f.poster.count("SyncFolderItems"))
	messages, err := f.service.ListMessages(context.Background(), model.ID, "INBOX")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	f.accounts.AssertCalled(t, "UpdateConnectionStatus", mock.Anything, model.ID, enum.ConnectionActive, "")
	f.syncs.AssertCalled(t, "SaveSyncState", mock.Anything, mock.MatchedBy(func(s *models.FolderSyncState) bool {
		return s.AccountID == model.ID && s.FolderID == "INBOX" && s.Messages == 1
	}))
}

func TestResyncAll_SyncsLoadedFolders(t *testing.T) {
	f := newServiceFixture(t, "ews")
	model := ewsModel()
	f.add(t, model)
	f.syncs.On("SaveSyncState", mock.Anything, mock.Anything).Return(nil)
	f.poster.on("GetFolder", soapResponse(ewsGetFolderRoot))
	f.poster.on("FindFolder", soapResponse(ewsFindFolders))
	f.poster.on("SyncFolderItems", ewsSync("S1", true, ""))

	require.NoError(t, f.service.Login(context.Background(), model.ID))
	_, err := f.service.ListMessages(context.Background(), model.ID, "INBOX")
	require.NoError(t, err)

	require.NoError(t, f.service.ResyncAll(context.Background()))

	assert.Equal(t, 2, f.poster.count("SyncFolderItems"))
	assert.Equal(t, 2, f.poster.count("FindFolder"))
	assert.Equal(t, 1, f.poster.count("GetFolder"))
}
