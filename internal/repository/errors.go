package repository

import (
	"errors"

	er "github.com/customeros/exchangestack/internal/errors"
)

var (
	ErrAccountNotFound = er.ErrAccountNotFound
	ErrInvalidInput    = errors.New("invalid input parameters")
)
