package auth

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// TokenStore persists refresh tokens between process restarts.
type TokenStore interface {
	Load(key string) (string, error)
	Save(key, refreshToken string) error
	Delete(key string) error
}

// ErrTokenNotFound is returned by a TokenStore that has nothing under key.
var ErrTokenNotFound = errors.New("token not found")

type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	// Username and Password enable the resource owner password grant.
	Username string
	Password string
}

// OAuth2 authenticates with bearer tokens. Login refreshes from a stored
// refresh token first and falls back to the password grant.
type OAuth2 struct {
	config   *oauth2.Config
	username string
	password string
	store    TokenStore
	storeKey string

	mu           sync.Mutex
	token        *oauth2.Token
	refreshToken string
}

func NewOAuth2(cfg OAuth2Config, store TokenStore, storeKey string) *OAuth2 {
	return &OAuth2{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		store:    store,
		storeKey: storeKey,
	}
}

func (o *OAuth2) Kind() Kind { return KindOAuth2 }

func (o *OAuth2) Login(ctx context.Context, interactive bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token.Valid() {
		return nil
	}

	refresh := o.refreshToken
	if refresh == "" && o.store != nil {
		stored, err := o.store.Load(o.storeKey)
		if err != nil && !errors.Is(err, ErrTokenNotFound) {
			return errors.Wrap(err, "loading refresh token")
		}
		refresh = stored
	}

	if refresh != "" {
		token, err := o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
		if err == nil {
			return o.setToken(token)
		}
		if o.password == "" {
			return errors.Wrap(err, "refreshing OAuth2 token")
		}
	}

	if o.password != "" {
		token, err := o.config.PasswordCredentialsToken(ctx, o.username, o.password)
		if err != nil {
			return errors.Wrap(err, "requesting OAuth2 token")
		}
		return o.setToken(token)
	}

	if interactive {
		return errors.Wrap(ErrInteractiveLoginRequired, "complete the authorization code flow and call SetToken")
	}
	return ErrInteractiveLoginRequired
}

// SetToken installs a token obtained outside of Login, e.g. by an
// authorization code flow driven by a UI.
func (o *OAuth2) SetToken(token *oauth2.Token) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setToken(token)
}

func (o *OAuth2) setToken(token *oauth2.Token) error {
	o.token = token
	if token.RefreshToken == "" || token.RefreshToken == o.refreshToken {
		return nil
	}
	o.refreshToken = token.RefreshToken
	if o.store != nil {
		if err := o.store.Save(o.storeKey, token.RefreshToken); err != nil {
			return errors.Wrap(err, "saving refresh token")
		}
	}
	return nil
}

// AuthCodeURL returns the URL a user visits to grant access.
func (o *OAuth2) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and installs it.
func (o *OAuth2) Exchange(ctx context.Context, code string) error {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	return o.SetToken(token)
}

func (o *OAuth2) AuthorizationHeader() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.token == nil || o.token.AccessToken == "" {
		return "", ErrNotLoggedIn
	}
	return o.token.Type() + " " + o.token.AccessToken, nil
}

// Reset drops the access token. The refresh token is kept so a
// non-interactive Login can still succeed.
func (o *OAuth2) Reset() {
	o.mu.Lock()
	o.token = nil
	o.mu.Unlock()
}

func (o *OAuth2) IsLoggedIn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token.Valid()
}

// Forget removes the stored refresh token as well, forcing a new grant.
func (o *OAuth2) Forget() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.token = nil
	o.refreshToken = ""
	if o.store == nil {
		return nil
	}
	return o.store.Delete(o.storeKey)
}

// MemoryTokenStore keeps refresh tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

func (m *MemoryTokenStore) Load(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[key]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

func (m *MemoryTokenStore) Save(key, refreshToken string) error {
	m.mu.Lock()
	m.tokens[key] = refreshToken
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.tokens, key)
	m.mu.Unlock()
	return nil
}
