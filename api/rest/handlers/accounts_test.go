package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	er "github.com/customeros/exchangestack/internal/errors"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/models"
)

type mockExchangeService struct {
	interfaces.ExchangeService
	mock.Mock
}

func (m *mockExchangeService) Status() map[string]interfaces.AccountStatus {
	status, _ := m.Called().Get(0).(map[string]interfaces.AccountStatus)
	return status
}

func (m *mockExchangeService) AddAccount(ctx context.Context, account *models.ExchangeAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockExchangeService) AuthorizeURL(accountID string) (string, error) {
	args := m.Called(accountID)
	return args.String(0), args.Error(1)
}

func (m *mockExchangeService) CompleteAuthorization(ctx context.Context, accountID, state, code string) error {
	return m.Called(ctx, accountID, state, code).Error(0)
}

func (m *mockExchangeService) Send(ctx context.Context, accountID string, email *request.EMail) error {
	return m.Called(ctx, accountID, email).Error(0)
}

func (m *mockExchangeService) ListMessages(ctx context.Context, accountID, folderID string) ([]folders.Message, error) {
	args := m.Called(ctx, accountID, folderID)
	list, _ := args.Get(0).([]folders.Message)
	return list, args.Error(1)
}

func (m *mockExchangeService) DeleteMessages(ctx context.Context, accountID, folderID string, itemIDs ...string) error {
	return m.Called(ctx, accountID, folderID, itemIDs).Error(0)
}

type mockPublisher struct {
	interfaces.EventPublisher
	mock.Mock
}

func (m *mockPublisher) PublishSendEmail(ctx context.Context, message dto.SendEmail) error {
	return m.Called(ctx, message).Error(0)
}

type mockAccountRepository struct {
	interfaces.ExchangeAccountRepository
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

func newRouter(h *AccountHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/accounts", h.ListAccounts())
	r.POST("/accounts", h.AddAccount())
	r.GET("/accounts/:id", h.GetAccount())
	r.GET("/accounts/:id/oauth/authorize", h.Authorize())
	r.GET("/accounts/:id/oauth/callback", h.Callback())
	r.GET("/accounts/:id/messages", h.ListMessages())
	r.POST("/accounts/:id/messages/delete", h.DeleteMessages())
	r.POST("/accounts/:id/send", h.Send())
	return r
}

func serve(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAddAccount_Created(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("AddAccount", mock.Anything, mock.MatchedBy(func(a *models.ExchangeAccount) bool {
		return a.Protocol == enum.ProtocolOWA && a.AuthMethod == enum.AuthBasic && a.Enabled && a.Password == "secret"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.ExchangeAccount).ID = "exch_1"
	}).Return(nil)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodPost, "/accounts",
		`{"protocol":"owa","url":"https://mail.acme.com/owa","emailAddress":"ann@acme.com","password":"secret"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"exch_1"`)
	assert.NotContains(t, w.Body.String(), "secret")
	svc.AssertExpectations(t)
}

func TestAddAccount_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: errors.Wrap(er.ErrInvalidAccount, "url is required"), code: http.StatusBadRequest},
		{err: er.ErrAccountExists, code: http.StatusConflict},
		{err: errors.New("database is down"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &mockExchangeService{}
			svc.On("AddAccount", mock.Anything, mock.Anything).Return(tt.err)
			r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

			w := serve(r, http.MethodPost, "/accounts", `{"protocol":"ews"}`)

			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestAddAccount_BadJSON(t *testing.T) {
	r := newRouter(NewAccountHandler(&mockExchangeService{}, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodPost, "/accounts", `{`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAccounts_MergesStatus(t *testing.T) {
	svc := &mockExchangeService{}
	repo := &mockAccountRepository{}
	repo.On("GetAccounts", mock.Anything).Return([]*models.ExchangeAccount{
		{ID: "exch_1", EmailAddress: "ann@acme.com"},
		{ID: "exch_2", EmailAddress: "bob@acme.com"},
	}, nil)
	svc.On("Status").Return(map[string]interfaces.AccountStatus{
		"exch_1": {Status: enum.ConnectionActive, LoggedIn: true},
	})
	r := newRouter(NewAccountHandler(svc, repo, nil))

	w := serve(r, http.MethodGet, "/accounts", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Contains(t, body[0], "status")
	assert.NotContains(t, body[1], "status")
}

func TestGetAccount_NotFound(t *testing.T) {
	repo := &mockAccountRepository{}
	repo.On("GetAccount", mock.Anything, "exch_9").Return(nil, er.ErrAccountNotFound)
	r := newRouter(NewAccountHandler(&mockExchangeService{}, repo, nil))

	w := serve(r, http.MethodGet, "/accounts/exch_9", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorize(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("AuthorizeURL", "exch_1").Return("https://login.acme.com/authorize?state=abc", nil)
	svc.On("AuthorizeURL", "exch_2").Return("", er.ErrOAuthDisabled)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodGet, "/accounts/exch_1/oauth/authorize", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "login.acme.com")

	w = serve(r, http.MethodGet, "/accounts/exch_1/oauth/authorize?redirect=true", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://login.acme.com/authorize?state=abc", w.Header().Get("Location"))

	w = serve(r, http.MethodGet, "/accounts/exch_2/oauth/authorize", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("CompleteAuthorization", mock.Anything, "exch_1", "abc", "xyz").Return(nil)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodGet, "/accounts/exch_1/oauth/callback?state=abc&code=xyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/accounts/exch_1/oauth/callback?state=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/accounts/exch_1/oauth/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "access_denied")

	svc.AssertNumberOfCalls(t, "CompleteAuthorization", 1)
}

func TestListMessages(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("ListMessages", mock.Anything, "exch_1", "AAMk/abc+=").Return([]folders.Message{{ItemID: "M1", Subject: "Hi"}}, nil)
	svc.On("ListMessages", mock.Anything, "exch_1", "gone").Return(nil, folders.ErrFolderNotFound)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodGet, "/accounts/exch_1/messages?folderId=AAMk%2Fabc%2B%3D", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"itemId":"M1"`)

	w = serve(r, http.MethodGet, "/accounts/exch_1/messages", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/accounts/exch_1/messages?folderId=gone", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMessages(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("DeleteMessages", mock.Anything, "exch_1", "INBOX", []string{"M1", "M2"}).Return(nil)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodPost, "/accounts/exch_1/messages/delete", `{"folderId":"INBOX","itemIds":["M1","M2"]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodPost, "/accounts/exch_1/messages/delete", `{"folderId":"INBOX"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "DeleteMessages", 1)
}

func TestSend(t *testing.T) {
	svc := &mockExchangeService{}
	svc.On("Send", mock.Anything, "exch_1", mock.MatchedBy(func(e *request.EMail) bool {
		return e.Subject == "Hello"
	})).Return(nil)
	svc.On("Send", mock.Anything, "exch_2", mock.Anything).Return(er.ErrNoRecipients)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodPost, "/accounts/exch_1/send", `{"to":[{"email":"bob@acme.com"}],"subject":"Hello"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(r, http.MethodPost, "/accounts/exch_2/send", `{"subject":"Hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSend_Queued(t *testing.T) {
	svc := &mockExchangeService{}
	publisher := &mockPublisher{}
	publisher.On("PublishSendEmail", mock.Anything, mock.MatchedBy(func(m dto.SendEmail) bool {
		return m.AccountID == "exch_1" && m.Email.Subject == "Hello"
	})).Return(nil)
	r := newRouter(NewAccountHandler(svc, &mockAccountRepository{}, publisher))

	w := serve(r, http.MethodPost, "/accounts/exch_1/send?queue=true", `{"to":[{"email":"bob@acme.com"}],"subject":"Hello"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "queued")

	w = serve(r, http.MethodPost, "/accounts/exch_1/send?queue=true", `{"subject":"Hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	publisher.AssertNumberOfCalls(t, "PublishSendEmail", 1)
	svc.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_QueueNotConfigured(t *testing.T) {
	r := newRouter(NewAccountHandler(&mockExchangeService{}, &mockAccountRepository{}, nil))

	w := serve(r, http.MethodPost, "/accounts/exch_1/send?queue=true", `{"to":[{"email":"bob@acme.com"}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatus_SummarizesConnections(t *testing.T) {
	exchange := new(mockExchangeService)
	exchange.On("Status").Return(map[string]interfaces.AccountStatus{
		"exch_1": {Status: enum.ConnectionActive},
		"exch_2": {Status: enum.ConnectionActive},
		"exch_3": {Status: enum.ConnectionLoginRequired},
	})

	r := gin.New()
	r.GET("/status", Status(exchange))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Accounts map[string]json.RawMessage `json:"accounts"`
		Summary  map[string]int             `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Accounts, 3)
	assert.Equal(t, 2, body.Summary["active"])
	assert.Equal(t, 1, body.Summary["login_required"])
}
