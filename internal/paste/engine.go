package paste

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/id"
	"pastebin-lite/internal/metrics"
	"pastebin-lite/internal/storage"
)

// insertRounds bounds how often Create draws a fresh identifier after
// losing the insert to a concurrent writer.
const insertRounds = 3

// Config wires an Engine.
type Config struct {
	Store storage.Store
	// IDs defaults to 7-character identifiers checked against Store.
	IDs    *id.Generator
	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine runs the paste lifecycle against a store.
type Engine struct {
	store  storage.Store
	ids    *id.Generator
	clock  clock.Clock
	logger *slog.Logger
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.IDs == nil {
		store := cfg.Store
		cfg.IDs = id.New(0, func(ctx context.Context, candidate string) (bool, error) {
			return store.Exists(ctx, Key(candidate))
		})
	}
	return &Engine{store: cfg.Store, ids: cfg.IDs, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// At returns a copy of the engine that reads time from c. Every time-dependent
// step of an operation on the copy sees the same clock.
func (e *Engine) At(c clock.Clock) *Engine {
	cp := *e
	cp.clock = c
	return &cp
}

// Now reports the engine's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// Create validates in, reserves an identifier and persists a new paste.
func (e *Engine) Create(ctx context.Context, in CreateInput) (string, *Paste, error) {
	if err := in.Validate(); err != nil {
		return "", nil, err
	}

	for round := 0; round < insertRounds; round++ {
		pid, err := e.ids.Generate(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrIDGenerationFailed, err)
		}

		p := &Paste{
			Content:   in.Content,
			CreatedAt: clock.Millis(e.clock.Now()),
		}
		var ttl time.Duration
		if in.TTLSeconds != nil {
			secs := *in.TTLSeconds
			expires := p.CreatedAt + int64(secs)*1000
			p.TTLSeconds = &secs
			p.ExpiresAt = &expires
			ttl = time.Duration(secs) * time.Second
		}
		if in.MaxViews != nil {
			limit := *in.MaxViews
			p.MaxViews = &limit
		}

		data, err := json.Marshal(p)
		if err != nil {
			return "", nil, fmt.Errorf("%w: encode paste: %w", ErrStorage, err)
		}
		stored, err := e.store.SetNX(ctx, Key(pid), data, ttl)
		if err != nil {
			return "", nil, fmt.Errorf("%w: store paste %s: %w", ErrStorage, pid, err)
		}
		if stored {
			metrics.ObserveCreate()
			e.logger.Debug("paste created", "id", pid, "ttl_seconds", in.TTLSeconds, "max_views", in.MaxViews)
			return pid, p, nil
		}
		// Another writer took the identifier after Generate checked it.
		e.logger.Warn("paste id claimed concurrently, retrying", "id", pid)
	}
	return "", nil, ErrIDGenerationFailed
}

// Fetch loads a paste without judging its availability.
func (e *Engine) Fetch(ctx context.Context, pid string) (*Paste, error) {
	data, err := e.store.Get(ctx, Key(pid))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch paste %s: %w", ErrStorage, pid, err)
	}
	return decode(pid, data)
}

func decode(pid string, data []byte) (*Paste, error) {
	var p Paste
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decode paste %s: %w", ErrStorage, pid, err)
	}
	return &p, nil
}

// IsExpired reports whether p's deadline has passed on the engine's clock.
func (e *Engine) IsExpired(p *Paste) bool { return IsExpired(p, e.clock.Now()) }

// HasExceededViews reports whether p has used all its views.
func (e *Engine) HasExceededViews(p *Paste) bool { return HasExceededViews(p) }

// RemainingViews returns the views left for p, nil when unlimited.
func (e *Engine) RemainingViews(p *Paste) *int { return RemainingViews(p) }

func availability(p *Paste, now time.Time) error {
	if IsExpired(p, now) {
		return ErrExpired
	}
	if HasExceededViews(p) {
		return ErrViewLimit
	}
	return nil
}

// RecordView increments the view counter of pid and re-persists it with
// the time left until its original deadline.
//
// The increment is a guarded update that re-checks availability against the
// state it modifies, so concurrent readers can neither lose increments nor
// push views past max_views.
func (e *Engine) RecordView(ctx context.Context, pid string) (*Paste, error) {
	var out *Paste
	err := e.store.Update(ctx, Key(pid), func(cur []byte) ([]byte, time.Duration, error) {
		p, err := decode(pid, cur)
		if err != nil {
			return nil, 0, err
		}
		now := e.clock.Now()
		if err := availability(p, now); err != nil {
			return nil, 0, err
		}
		p.Views++

		ttl := time.Duration(0)
		if p.ExpiresAt != nil {
			if secs := remainingTTL(p, now); secs > 0 {
				ttl = time.Duration(secs) * time.Second
			} else {
				ttl = storage.KeepTTL
			}
		}
		next, err := json.Marshal(p)
		if err != nil {
			return nil, 0, fmt.Errorf("encode paste: %w", err)
		}
		out = p
		return next, ttl, nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStorage):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: record view %s: %w", ErrStorage, pid, err)
	}
}

// Read is the availability-gated read shared by the API and the HTML page:
// fetch, reject expired or exhausted pastes, record the view, and return the
// post-increment state.
func (e *Engine) Read(ctx context.Context, pid string) (View, error) {
	p, err := e.Peek(ctx, pid)
	if err != nil {
		observeRead(err)
		return View{}, err
	}
	p, err = e.RecordView(ctx, pid)
	observeRead(err)
	if err != nil {
		return View{}, err
	}
	return viewOf(p), nil
}

// Peek fetches pid and checks availability without consuming a view.
func (e *Engine) Peek(ctx context.Context, pid string) (*Paste, error) {
	p, err := e.Fetch(ctx, pid)
	if err != nil {
		return nil, err
	}
	if err := availability(p, e.clock.Now()); err != nil {
		return nil, err
	}
	return p, nil
}

func observeRead(err error) {
	switch {
	case err == nil:
		metrics.ObserveRead(metrics.OutcomeServed)
	case errors.Is(err, ErrExpired):
		metrics.ObserveRead(metrics.OutcomeExpired)
	case errors.Is(err, ErrViewLimit):
		metrics.ObserveRead(metrics.OutcomeViewLimit)
	case errors.Is(err, ErrNotFound):
		metrics.ObserveRead(metrics.OutcomeNotFound)
	default:
		metrics.ObserveRead(metrics.OutcomeError)
	}
}
