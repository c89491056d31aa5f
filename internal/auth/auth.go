// Package auth checks caller tokens against the static allow-list.
//
// Authorization is a pure predicate: nothing is cached per connection, so
// every request and every event is checked on its own.
package auth

import (
	"crypto/subtle"
	"strings"
)

// AllowList is an immutable set of accepted tokens. The zero value rejects
// everything.
type AllowList struct {
	keys [][]byte
}

// New builds an allow-list from keys. Surrounding whitespace is trimmed and
// empty keys are ignored.
func New(keys ...string) *AllowList {
	a := &AllowList{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		a.keys = append(a.keys, []byte(k))
	}
	return a
}

// Len returns the number of accepted tokens.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Allowed reports whether token matches an accepted key verbatim.
// Every key is compared so the timing does not reveal which one matched.
func (a *AllowList) Allowed(token string) bool {
	if a == nil || token == "" {
		return false
	}
	t := []byte(token)
	ok := 0
	for _, k := range a.keys {
		ok |= subtle.ConstantTimeCompare(k, t)
	}
	return ok == 1
}

// AnyAllowed reports whether any of tokens is accepted. Used for transports
// that may carry the credential more than once, such as repeated headers.
func (a *AllowList) AnyAllowed(tokens []string) bool {
	for _, t := range tokens {
		if a.Allowed(t) {
			return true
		}
	}
	return false
}
