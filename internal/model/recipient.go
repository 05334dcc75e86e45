package model

import (
	"errors"
	"fmt"
	"regexp"
)

const MaxRecipientIDLen = 64

var (
	ErrInvalidRecipient = errors.New("invalid recipient id")

	recipientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateRecipientID checks that id can be used as a slot key and as a
// file name component.
func ValidateRecipientID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}
	if len(id) > MaxRecipientIDLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidRecipient, MaxRecipientIDLen)
	}
	if id == "." || id == ".." || !recipientIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, id)
	}
	return nil
}
