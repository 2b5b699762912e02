package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LoadState is the warm-up state of the model collaborators.
type LoadState int32

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
)

// String returns a human-readable string for the load state.
func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

var (
	// ErrModelLoad wraps a failed load attempt.
	ErrModelLoad = errors.New("model load failed")
	// ErrLoadAttemptsExhausted is returned once every allowed attempt has failed.
	ErrLoadAttemptsExhausted = errors.New("model load attempts exhausted")
	// ErrStillLoading is returned when another request's load did not finish in time.
	ErrStillLoading = errors.New("model is still loading")
)

// LoaderConfig bounds model warm-up.
type LoaderConfig struct {
	// MaxAttempts counts load attempts across all requests.
	MaxAttempts int
	// Wait is how long a request blocks on a load started by another request.
	Wait time.Duration
	// PollInterval is how often a waiting request re-checks the state.
	PollInterval time.Duration
	// LoadTimeout bounds a single load attempt. The attempt runs detached from
	// the request that started it.
	LoadTimeout time.Duration
}

// DefaultLoaderConfig returns the loader defaults.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MaxAttempts:  3,
		Wait:         120 * time.Second,
		PollInterval: 500 * time.Millisecond,
		LoadTimeout:  5 * time.Minute,
	}
}

// Loader runs the model warm-up once for the whole process. The first request
// moves the state from NotLoaded to Loading and performs the load; concurrent
// requests poll until it settles instead of starting their own. A failed load
// returns to NotLoaded so a later request can try again, up to MaxAttempts in
// total. A single request never makes more than one attempt. If the starting
// request goes away, its attempt keeps running and settles the shared state.
type Loader struct {
	load   func(ctx context.Context) error
	cfg    LoaderConfig
	logger *zap.Logger

	state    atomic.Int32
	attempts atomic.Int32

	mu      sync.Mutex
	lastErr error
}

// NewLoader creates a loader around load.
func NewLoader(load func(ctx context.Context) error, cfg LoaderConfig, logger *zap.Logger) *Loader {
	defaults := DefaultLoaderConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaults.Wait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaults.LoadTimeout
	}
	return &Loader{load: load, cfg: cfg, logger: logger.Named("llm-loader")}
}

// WarmUpAll returns a load function that warms up every client that supports it.
func WarmUpAll(clients ...LLMClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, c := range clients {
			w, ok := c.(Warmer)
			if !ok {
				continue
			}
			if err := w.WarmUp(ctx); err != nil {
				return fmt.Errorf("warm up %s: %w", c.GetModel(), err)
			}
		}
		return nil
	}
}

// State returns the current load state.
func (l *Loader) State() LoadState {
	return LoadState(l.state.Load())
}

// Attempts returns how many load attempts have been made.
func (l *Loader) Attempts() int {
	return int(l.attempts.Load())
}

// Ensure makes sure the models are loaded, loading them or waiting for an
// in-flight load as needed.
func (l *Loader) Ensure(ctx context.Context) error {
	for {
		switch l.State() {
		case Loaded:
			return nil

		case Loading:
			return l.waitForLoad(ctx)

		case NotLoaded:
			if int(l.attempts.Load()) >= l.cfg.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrLoadAttemptsExhausted, l.cfg.MaxAttempts, l.lastError())
			}
			if !l.state.CompareAndSwap(int32(NotLoaded), int32(Loading)) {
				continue
			}
			return l.runLoad(ctx)
		}
	}
}

func (l *Loader) runLoad(ctx context.Context) error {
	attempt := l.attempts.Add(1)
	if int(attempt) > l.cfg.MaxAttempts {
		l.state.Store(int32(NotLoaded))
		return fmt.Errorf("%w after %d attempts: %v", ErrLoadAttemptsExhausted, l.cfg.MaxAttempts, l.lastError())
	}

	done := make(chan error, 1)
	go func() {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.LoadTimeout)
		defer cancel()
		done <- l.attempt(loadCtx, attempt)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.logger.Debug("Request abandoned during model load; load continues",
			zap.Int32("attempt", attempt))
		return ctx.Err()
	}
}

func (l *Loader) attempt(ctx context.Context, attempt int32) error {
	l.logger.Info("Loading models", zap.Int32("attempt", attempt))
	start := time.Now()

	if err := l.load(ctx); err != nil {
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		l.state.Store(int32(NotLoaded))

		l.logger.Error("Model load failed",
			zap.Int32("attempt", attempt),
			zap.Int("max_attempts", l.cfg.MaxAttempts),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	l.state.Store(int32(Loaded))
	l.logger.Info("Models loaded", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (l *Loader) waitForLoad(ctx context.Context) error {
	deadline := time.NewTimer(l.cfg.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrStillLoading, l.cfg.Wait)
		case <-ticker.C:
			switch l.State() {
			case Loaded:
				return nil
			case NotLoaded:
				// The other request's attempt failed; this request does not retry it.
				return fmt.Errorf("%w: %v", ErrModelLoad, l.lastError())
			}
		}
	}
}

func (l *Loader) lastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
