package id

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of characters identifiers are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	defaultLength   = 7
	defaultAttempts = 10
)

// ErrExhausted is returned when every candidate drawn was already taken.
var ErrExhausted = errors.New("no free identifier found")

// TakenFunc reports whether an identifier is already in use.
type TakenFunc func(ctx context.Context, id string) (bool, error)

// Generator produces short alphanumeric identifiers that are free at the
// time of the check.
type Generator struct {
	length   int
	attempts int
	taken    TakenFunc
}

// New returns a Generator drawing identifiers of the given length and
// consulting taken before handing one out. If length <= 0, a sane default is used.
func New(length int, taken TakenFunc) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	return &Generator{length: length, attempts: defaultAttempts, taken: taken}
}

// WithAttempts returns a copy of g that gives up after n taken candidates.
func (g *Generator) WithAttempts(n int) *Generator {
	cp := *g
	if n > 0 {
		cp.attempts = n
	}
	return &cp
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate, err := gonanoid.Generate(Alphabet, g.length)
		if err != nil {
			return "", fmt.Errorf("draw identifier: %w", err)
		}
		if g.taken == nil {
			return candidate, nil
		}
		used, err := g.taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check identifier %s: %w", candidate, err)
		}
		if !used {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}
