package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	er "github.com/customeros/exchangestack/internal/errors"
	"github.com/customeros/exchangestack/internal/exchange/auth"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/models"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/services/exchange"
)

type AccountRequest struct {
	Protocol           enum.ExchangeProtocol `json:"protocol"`
	URL                string                `json:"url"`
	EmailAddress       string                `json:"emailAddress"`
	DisplayName        string                `json:"displayName"`
	AuthMethod         enum.AuthMethod       `json:"authMethod"`
	Username           string                `json:"username"`
	Password           string                `json:"password"`
	OAuth2ClientID     string                `json:"oauth2ClientId"`
	OAuth2ClientSecret string                `json:"oauth2ClientSecret"`
	OAuth2AuthURL      string                `json:"oauth2AuthUrl"`
	OAuth2TokenURL     string                `json:"oauth2TokenUrl"`
	OAuth2RedirectURL  string                `json:"oauth2RedirectUrl"`
	OAuth2Scopes       []string              `json:"oauth2Scopes"`
	Enabled            *bool                 `json:"enabled"`
}

type AccountResponse struct {
	*models.ExchangeAccount
	Status *interfaces.AccountStatus `json:"status,omitempty"`
}

type MarkReadRequest struct {
	FolderID string `json:"folderId"`
	ItemID   string `json:"itemId"`
	Read     bool   `json:"read"`
}

type DeleteMessagesRequest struct {
	FolderID string   `json:"folderId"`
	ItemIDs  []string `json:"itemIds"`
}

type AccountHandler struct {
	exchange  interfaces.ExchangeService
	accounts  interfaces.ExchangeAccountRepository
	publisher interfaces.EventPublisher
}

// NewAccountHandler builds the account endpoints. publisher may be nil, in
// which case emails cannot be queued.
func NewAccountHandler(exchangeService interfaces.ExchangeService, accounts interfaces.ExchangeAccountRepository, publisher interfaces.EventPublisher) *AccountHandler {
	return &AccountHandler{
		exchange:  exchangeService,
		accounts:  accounts,
		publisher: publisher,
	}
}

// ListAccounts returns every stored account with the status of the running ones
func (h *AccountHandler) ListAccounts() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.ListAccounts")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		accounts, err := h.accounts.GetAccounts(ctx)
		if err != nil {
			respondError(c, span, err)
			return
		}
		status := h.exchange.Status()
		response := make([]AccountResponse, 0, len(accounts))
		for _, account := range accounts {
			response = append(response, withStatus(account, status))
		}
		c.JSON(http.StatusOK, response)
	}
}

// AddAccount stores a new account and starts connecting it
func (h *AccountHandler) AddAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.AddAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req AccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account := req.toModel()
		if err := h.exchange.AddAccount(ctx, account); err != nil {
			respondError(c, span, err)
			return
		}
		tracing.TagAccount(span, account.ID)

		c.JSON(http.StatusCreated, AccountResponse{ExchangeAccount: account})
	}
}

// GetAccount returns one stored account
func (h *AccountHandler) GetAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.GetAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		account, err := h.accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, withStatus(account, h.exchange.Status()))
	}
}

// RemoveAccount stops an account and deletes it
func (h *AccountHandler) RemoveAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.RemoveAccount")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		id := c.Param("id")
		if err := h.exchange.RemoveAccount(ctx, id); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": id})
	}
}

func (h *AccountHandler) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.Login")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		id := c.Param("id")
		if err := h.exchange.Login(ctx, id); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged in", "id": id})
	}
}

func (h *AccountHandler) Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.Logout")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		id := c.Param("id")
		if err := h.exchange.Logout(ctx, id); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged out", "id": id})
	}
}

// Authorize returns the URL that starts an OAuth2 authorization code flow
func (h *AccountHandler) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.Authorize")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		url, err := h.exchange.AuthorizeURL(c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		if c.Query("redirect") == "true" {
			c.Redirect(http.StatusFound, url)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

// Callback completes an OAuth2 authorization code flow. The identity
// provider redirects the browser here, so it carries no API key.
func (h *AccountHandler) Callback() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.Callback")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		if providerErr := c.Query("error"); providerErr != "" {
			err := errors.Errorf("authorization failed: %s %s", providerErr, c.Query("error_description"))
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state, code := c.Query("state"), c.Query("code")
		if state == "" || code == "" {
			message := "Missing required query parameters: state and code"
			tracing.TraceErr(span, errors.New(message))
			c.JSON(http.StatusBadRequest, gin.H{"error": message})
			return
		}
		if err := h.exchange.CompleteAuthorization(ctx, c.Param("id"), state, code); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "authorized", "id": c.Param("id")})
	}
}

func (h *AccountHandler) ListFolders() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.ListFolders")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		list, err := h.exchange.ListFolders(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// ListMessages returns the messages of the folder named by the folderId
// query parameter. Exchange folder ids contain slashes, so they are not
// path segments.
func (h *AccountHandler) ListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.ListMessages")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		folderID := c.Query("folderId")
		if folderID == "" {
			message := "Missing required query parameter: folderId"
			tracing.TraceErr(span, errors.New(message))
			c.JSON(http.StatusBadRequest, gin.H{"error": message})
			return
		}
		messages, err := h.exchange.ListMessages(ctx, c.Param("id"), folderID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, messages)
	}
}

func (h *AccountHandler) MarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.MarkRead")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req MarkReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.FolderID == "" || req.ItemID == "" {
			message := "Missing required fields: folderId and itemId"
			tracing.TraceErr(span, errors.New(message))
			c.JSON(http.StatusBadRequest, gin.H{"error": message})
			return
		}
		if err := h.exchange.MarkRead(ctx, c.Param("id"), req.FolderID, req.ItemID, req.Read); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

func (h *AccountHandler) DeleteMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.DeleteMessages")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var req DeleteMessagesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.FolderID == "" || len(req.ItemIDs) == 0 {
			message := "Missing required fields: folderId and itemIds"
			tracing.TraceErr(span, errors.New(message))
			c.JSON(http.StatusBadRequest, gin.H{"error": message})
			return
		}
		if err := h.exchange.DeleteMessages(ctx, c.Param("id"), req.FolderID, req.ItemIDs...); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "count": len(req.ItemIDs)})
	}
}

// Send sends an email from the account. With queue=true the email is
// handed to the send queue instead and sent by a listener.
func (h *AccountHandler) Send() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountHandler.Send")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var email request.EMail
		if err := c.ShouldBindJSON(&email); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if c.Query("queue") == "true" {
			h.queue(c, span, email)
			return
		}
		if err := h.exchange.Send(ctx, c.Param("id"), &email); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	}
}

func (h *AccountHandler) queue(c *gin.Context, span opentracing.Span, email request.EMail) {
	if h.publisher == nil {
		message := "Email queue is not configured"
		tracing.TraceErr(span, errors.New(message))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
		return
	}
	if len(email.Recipients()) == 0 {
		respondError(c, span, er.ErrNoRecipients)
		return
	}
	message := dto.SendEmail{AccountID: c.Param("id"), Email: email}
	if err := h.publisher.PublishSendEmail(c.Request.Context(), message); err != nil {
		respondError(c, span, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (r AccountRequest) toModel() *models.ExchangeAccount {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	authMethod := r.AuthMethod
	if authMethod == "" {
		authMethod = enum.AuthBasic
	}
	return &models.ExchangeAccount{
		Protocol:           r.Protocol,
		URL:                r.URL,
		EmailAddress:       r.EmailAddress,
		DisplayName:        r.DisplayName,
		AuthMethod:         authMethod,
		Username:           r.Username,
		Password:           r.Password,
		OAuth2ClientID:     r.OAuth2ClientID,
		OAuth2ClientSecret: r.OAuth2ClientSecret,
		OAuth2AuthURL:      r.OAuth2AuthURL,
		OAuth2TokenURL:     r.OAuth2TokenURL,
		OAuth2RedirectURL:  r.OAuth2RedirectURL,
		OAuth2Scopes:       r.OAuth2Scopes,
		Enabled:            enabled,
	}
}

func withStatus(account *models.ExchangeAccount, status map[string]interfaces.AccountStatus) AccountResponse {
	response := AccountResponse{ExchangeAccount: account}
	if s, ok := status[account.ID]; ok {
		response.Status = &s
	}
	return response
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, span opentracing.Span, err error) {
	tracing.TraceErr(span, err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, er.ErrAccountNotFound),
		errors.Is(err, er.ErrAccountNotRunning),
		errors.Is(err, folders.ErrFolderNotFound),
		errors.Is(err, exchange.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, er.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, er.ErrInvalidAccount),
		errors.Is(err, er.ErrInvalidEmail),
		errors.Is(err, er.ErrNoRecipients),
		errors.Is(err, er.ErrOAuthDisabled):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInteractiveLoginRequired):
		status = http.StatusPreconditionRequired
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
