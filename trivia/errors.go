/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import (
	"context"
	"errors"
)

var (
	ErrNetworkFailure         = errors.New("trivia service request failed")
	ErrMalformedResponse      = errors.New("trivia service returned a malformed response")
	ErrInsufficientCategories = errors.New("not enough categories with the required number of clues")
	ErrInsufficientClues      = errors.New("not enough usable clues in category")
	ErrNoBoard                = errors.New("no board is ready")
	ErrNoSuchClue             = errors.New("no clue at the given position")
)

// Retryable reports whether a failed build attempt may succeed when run again.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrInsufficientCategories):
		return false
	case errors.Is(err, ErrNetworkFailure),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrInsufficientClues):
		return true
	default:
		return false
	}
}
