package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the user does not resolve to a member.
	ErrNotFound = errors.New("not found")
	// ErrLimitExceeded: the daily cap for the action is already reached. Not a fault.
	ErrLimitExceeded = errors.New("daily limit exceeded")
	// ErrConfiguration: a quest or badge definition is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient: the store was unavailable or timed out. The mutation may or may not have applied.
	ErrTransient = errors.New("transient store error")
	// ErrInvalidAction: unknown action type or badge category.
	ErrInvalidAction = errors.New("invalid action")
)

// transient tags a store failure so callers can tell it apart from domain outcomes.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %v", ErrTransient, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
