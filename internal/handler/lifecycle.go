package handler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/session"
)

// lifecycle implements the load/unload state machine shared by every variant.
// Variants embed it and supply load/unload hooks that allocate and release
// their runtime sessions.
//
// loaded is true only after load returned nil and until unload runs. Load and
// unload hold mu exclusively; inference holds it shared so an unload waits
// for in-flight runs to drain.
type lifecycle struct {
	name string
	path string
	log  zerolog.Logger
	obs  Observer

	maxPixels int64

	mu     sync.RWMutex
	loaded atomic.Bool

	load   func(ctx context.Context) error
	unload func() error
}

func (l *lifecycle) init(name, path string, opts Options, load func(context.Context) error, unload func() error) {
	l.name = name
	l.path = path
	l.log = opts.Logger.With().Str("model", name).Logger()
	l.obs = opts.Observer
	l.maxPixels = opts.MaxImagePixels
	if l.maxPixels <= 0 {
		l.maxPixels = DefaultMaxImagePixels
	}
	l.load = load
	l.unload = unload
}

func (l *lifecycle) Name() string { return l.name }
func (l *lifecycle) Path() string { return l.path }

// Loaded reports whether the runtime session is resident.
func (l *lifecycle) Loaded() bool { return l.loaded.Load() }

// EnsureLoaded loads the model if needed. Concurrent callers on an unloaded
// handler trigger exactly one load; a failed load leaves the handler unloaded
// and returns a model load error.
func (l *lifecycle) EnsureLoaded(ctx context.Context) error {
	if l.loaded.Load() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check: another goroutine may have loaded while we waited.
	if l.loaded.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	l.log.Debug().Str("event", "load_start").Str("path", l.path).Msg("loading model")
	err := l.load(ctx)
	dur := time.Since(start)
	if err != nil {
		if !IsModelLoad(err) {
			err = ErrModelLoad(l.name, err)
		}
		l.log.Error().Str("event", "load_error").Dur("dur", dur).Err(err).Msg("model load failed")
		if l.obs != nil {
			l.obs.OnLoad(l.name, dur, err)
		}
		return err
	}
	l.loaded.Store(true)
	l.log.Info().Str("event", "load_done").Dur("dur", dur).Msg("model loaded")
	if l.obs != nil {
		l.obs.OnLoad(l.name, dur, nil)
	}
	return nil
}

// Unload releases the runtime session. It is a no-op when nothing is loaded.
// The handler is marked unloaded even if releasing reports an error, since
// the hooks drop their session references unconditionally.
func (l *lifecycle) Unload() error {
	if !l.loaded.Load() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded.Load() {
		return nil
	}
	err := l.unload()
	l.loaded.Store(false)
	if err != nil {
		l.log.Warn().Str("event", "unload").Err(err).Msg("model unloaded with error")
	} else {
		l.log.Info().Str("event", "unload").Msg("model unloaded")
	}
	if l.obs != nil {
		l.obs.OnUnload(l.name, err)
	}
	return err
}

// use runs fn with the model loaded and pinned: fn executes under the shared
// lock so the session cannot be released underneath it. If the model is
// evicted between loading and pinning, it is loaded again.
func (l *lifecycle) use(ctx context.Context, fn func() error) error {
	for {
		if err := l.EnsureLoaded(ctx); err != nil {
			return err
		}
		l.mu.RLock()
		if l.loaded.Load() {
			defer l.mu.RUnlock()
			return fn()
		}
		l.mu.RUnlock()
	}
}

// openSession opens path on rt. When wantInputs > 0 and the session declares
// its inputs, a different arity is a load error and the session is closed.
func (l *lifecycle) openSession(rt session.Runtime, path string, wantInputs int) (session.Session, error) {
	s, err := rt.Open(path)
	if err != nil {
		return nil, err
	}
	in := s.Inputs()
	l.log.Debug().Str("path", path).Strs("inputs", in).Strs("outputs", s.Outputs()).Msg("session opened")
	if wantInputs > 0 && len(in) > 0 && len(in) != wantInputs {
		_ = s.Close()
		return nil, fmt.Errorf("%s declares %d inputs %v, want %d", path, len(in), in, wantInputs)
	}
	return s, nil
}
