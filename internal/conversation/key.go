// Package conversation derives the canonical key under which a two-party
// message thread is partitioned, both remotely and in the local cache.
package conversation

import (
	"errors"

	"github.com/google/uuid"
)

// ErrMissingParticipant is returned when either participant id is absent.
// Callers must not load or subscribe without a valid key.
var ErrMissingParticipant = errors.New("conversation: participant id missing")

// Separator joins the two sorted participant ids. The backend uses the same
// character when writing conversation_id columns, so it must not change.
const Separator = "_"

// DeriveKey maps an unordered pair of participant ids to one deterministic
// conversation key: the ids sorted lexicographically and joined with
// Separator. DeriveKey(a, b) == DeriveKey(b, a) for all a, b.
func DeriveKey(a, b uuid.UUID) (string, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return "", ErrMissingParticipant
	}

	first, second := a.String(), b.String()
	if second < first {
		first, second = second, first
	}

	return first + Separator + second, nil
}
