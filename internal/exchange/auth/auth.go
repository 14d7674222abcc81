package auth

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindBasic  Kind = "basic"
	KindOAuth2 Kind = "oauth2"
)

func (k Kind) String() string {
	return string(k)
}

var (
	ErrMissingPassword          = errors.New("password is required for basic authentication")
	ErrInteractiveLoginRequired = errors.New("interactive login required")
	ErrNotLoggedIn              = errors.New("not logged in")
)

// Authenticator supplies the Authorization header for Exchange calls.
type Authenticator interface {
	Kind() Kind
	// Login obtains a credential. With interactive false it must not wait
	// on the user and fails with ErrInteractiveLoginRequired instead.
	Login(ctx context.Context, interactive bool) error
	AuthorizationHeader() (string, error)
	// Reset drops the cached credential so the next Login fetches a new one.
	Reset()
	IsLoggedIn() bool
}

type Basic struct {
	username string
	password string

	mu       sync.RWMutex
	loggedIn bool
}

func NewBasic(username, password string) *Basic {
	return &Basic{username: username, password: password}
}

func (b *Basic) Kind() Kind { return KindBasic }

func (b *Basic) Login(ctx context.Context, interactive bool) error {
	if b.password == "" {
		return ErrMissingPassword
	}
	b.mu.Lock()
	b.loggedIn = true
	b.mu.Unlock()
	return nil
}

func (b *Basic) AuthorizationHeader() (string, error) {
	if b.password == "" {
		return "", ErrMissingPassword
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return "Basic " + credentials, nil
}

func (b *Basic) Reset() {
	b.mu.Lock()
	b.loggedIn = false
	b.mu.Unlock()
}

func (b *Basic) IsLoggedIn() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loggedIn
}
