package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrConnectionTimeout = errors.New("connection timeout")

	// account errors
	ErrAccountNotFound   = errors.New("exchange account not found")
	ErrAccountExists     = errors.New("exchange account already exists")
	ErrInvalidAccount    = errors.New("invalid exchange account")
	ErrAccountNotRunning = errors.New("exchange account is not running")

	// send errors
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrNoRecipients  = errors.New("email has no recipients")
	ErrOAuthDisabled = errors.New("account does not use oauth2")
)
