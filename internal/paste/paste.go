// Package paste implements the paste lifecycle: creation, availability
// decisions (time expiry and view limits) and view accounting on top of a
// storage.Store.
package paste

import (
	"strings"
	"time"

	"pastebin-lite/internal/clock"
)

// KeyPrefix namespaces paste records in the store.
const KeyPrefix = "paste:"

// Key returns the storage key for a paste identifier.
func Key(id string) string { return KeyPrefix + id }

// Paste is the stored record. Times are epoch milliseconds.
type Paste struct {
	Content    string `json:"content"`
	TTLSeconds *int   `json:"ttl_seconds,omitempty"`
	MaxViews   *int   `json:"max_views,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  *int64 `json:"expires_at,omitempty"`
	Views      int    `json:"views"`
}

// Deadline returns the expiry instant, if the paste has one.
func (p *Paste) Deadline() (time.Time, bool) {
	if p.ExpiresAt == nil {
		return time.Time{}, false
	}
	return clock.FromMillis(*p.ExpiresAt), true
}

// IsExpired reports whether now is at or past the paste's deadline.
func IsExpired(p *Paste, now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return clock.Millis(now) >= *p.ExpiresAt
}

// HasExceededViews reports whether the view counter has reached the cap.
func HasExceededViews(p *Paste) bool {
	if p.MaxViews == nil {
		return false
	}
	return p.Views >= *p.MaxViews
}

// RemainingViews returns how many more reads are allowed, or nil when unlimited.
func RemainingViews(p *Paste) *int {
	if p.MaxViews == nil {
		return nil
	}
	n := *p.MaxViews - p.Views
	if n < 0 {
		n = 0
	}
	return &n
}

// remainingTTL is the whole seconds left until the deadline, rounded up.
func remainingTTL(p *Paste, now time.Time) int64 {
	left := *p.ExpiresAt - clock.Millis(now)
	if left <= 0 {
		return 0
	}
	return (left + 999) / 1000
}

// CreateInput carries the caller-supplied fields of a new paste.
type CreateInput struct {
	Content    string
	TTLSeconds *int
	MaxViews   *int
}

// Validate checks the input against the creation rules.
func (in CreateInput) Validate() error {
	var issues []Issue
	if in.Content == "" {
		issues = append(issues, Issue{Field: "content", Message: "Content is required and must be non-empty"})
	}
	if in.TTLSeconds != nil && *in.TTLSeconds < 1 {
		issues = append(issues, Issue{Field: "ttl_seconds", Message: "Number must be greater than or equal to 1"})
	}
	if in.MaxViews != nil && *in.MaxViews < 1 {
		issues = append(issues, Issue{Field: "max_views", Message: "Number must be greater than or equal to 1"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// View is what a successful read hands back to the caller.
type View struct {
	Content        string
	RemainingViews *int
	ExpiresAt      *time.Time
}

func viewOf(p *Paste) View {
	v := View{Content: p.Content, RemainingViews: RemainingViews(p)}
	if t, ok := p.Deadline(); ok {
		v.ExpiresAt = &t
	}
	return v
}

// Issue describes one invalid input field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a CreateInput.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }
