package fetcher

import (
	"math/rand"

	"github.com/cockroachdb/errors"
)

// ErrCredentialsExhausted marks a run aborted because every API key was rejected.
var ErrCredentialsExhausted = errors.New("all API keys have been rejected")

// CredentialPool is the ordered list of API keys used by one run.
// The cursor only moves forward; once it passes the last key the pool is exhausted.
type CredentialPool struct {
	keys   []string
	cursor int
}

// NewCredentialPool copies keys and, when shuffle is true, randomizes their
// order so repeated runs spread quota across keys.
func NewCredentialPool(keys []string, shuffle bool) *CredentialPool {
	p := &CredentialPool{keys: append([]string(nil), keys...)}
	if shuffle {
		rand.Shuffle(len(p.keys), func(i, j int) {
			p.keys[i], p.keys[j] = p.keys[j], p.keys[i]
		})
	}
	return p
}

// Current returns the active key.
func (p *CredentialPool) Current() (string, error) {
	if p.Exhausted() {
		return "", ErrCredentialsExhausted
	}
	return p.keys[p.cursor], nil
}

// Advance moves to the next key and reports whether one is left.
func (p *CredentialPool) Advance() bool {
	if p.cursor < len(p.keys) {
		p.cursor++
	}
	return !p.Exhausted()
}

func (p *CredentialPool) Exhausted() bool {
	return p.cursor >= len(p.keys)
}

func (p *CredentialPool) Cursor() int {
	return p.cursor
}

func (p *CredentialPool) Len() int {
	return len(p.keys)
}
