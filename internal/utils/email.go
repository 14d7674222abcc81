package utils

import (
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/pkg/errors"
)

var ErrInvalidEmailAddress = errors.New("invalid email address")

// CleanEmailAddress validates the syntax of email and returns its
// normalized form.
func CleanEmailAddress(email string) (string, error) {
	validation := mailvalidate.ValidateEmailSyntax(strings.TrimSpace(email))
	if !validation.IsValid || validation.IsSystemGenerated {
		return "", errors.Wrap(ErrInvalidEmailAddress, email)
	}
	return validation.CleanEmail, nil
}
