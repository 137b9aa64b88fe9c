package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Defaults for a Loader.
const (
	DefaultRequestsPerSecond = 10
	DefaultMaxRetries        = 5

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Loader runs background catalog loads, one live run per session.
// Each run gets a generation number; only the newest generation of a
// session may publish its catalog or report completion.
type Loader struct {
	store  *Store
	status *StatusTracker

	// mu orders generation changes against publishing, so the store and
	// the status tracker always agree on which run is current.
	mu  sync.Mutex
	gen uint64
	wg  sync.WaitGroup

	ctx            context.Context
	rps            float64
	maxRetries     int
	requirePreview bool
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option configures a Loader.
type Option func(*Loader)

// WithRateLimit paces API requests of each run. Zero or less disables pacing.
func WithRateLimit(rps float64) Option {
	return func(l *Loader) {
		l.rps = rps
	}
}

// WithMaxRetries sets how many times a rate-limited or transient call is retried.
func WithMaxRetries(n int) Option {
	return func(l *Loader) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithRequirePreview drops tracks that have no preview URL.
func WithRequirePreview(require bool) Option {
	return func(l *Loader) {
		l.requirePreview = require
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loader) {
		l.sleep = fn
	}
}

// WithContext sets the parent context of every run.
func WithContext(ctx context.Context) Option {
	return func(l *Loader) {
		l.ctx = ctx
	}
}

// NewLoader creates a Loader that publishes into store and reports to status.
func NewLoader(store *Store, status *StatusTracker, opts ...Option) *Loader {
	l := &Loader{
		store:      store,
		status:     status,
		ctx:        context.Background(),
		rps:        DefaultRequestsPerSecond,
		maxRetries: DefaultMaxRetries,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start schedules a load for id and returns immediately.
// It is a no-op returning false when a run for id is already in progress.
func (l *Loader) Start(id SessionID, client Client) bool {
	gen, ok := l.begin(id, false)
	if !ok {
		log.Debug().Str("module", "catalog.loader").Str("sid", id.Short()).Msg("load already running")
		return false
	}
	l.spawn(id, gen, client)
	return true
}

// Supersede starts a new run for id even if one is in flight.
// The older run keeps going but its results are discarded.
func (l *Loader) Supersede(id SessionID, client Client) {
	gen, _ := l.begin(id, true)
	l.spawn(id, gen, client)
}

// Forget drops the status and catalog of id. Runs still in flight for id are discarded.
func (l *Loader) Forget(id SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	l.status.forget(id, l.gen)
	l.store.forget(id, l.gen)
}

func (l *Loader) begin(id SessionID, force bool) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gen++
	if !l.status.begin(id, l.gen, force) {
		return 0, false
	}
	l.store.claim(id, l.gen)
	return l.gen, true
}

// publish stores the catalog of run gen and marks it done, unless a newer
// run has started or the session was forgotten meanwhile.
func (l *Loader) publish(id SessionID, gen uint64, tracks Catalog) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.store.put(id, gen, tracks) {
		return false
	}
	return l.status.complete(id, gen, len(tracks))
}

// Wait blocks until every scheduled run has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) spawn(id SessionID, gen uint64, client Client) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(id, gen, client)
	}()
}

func (l *Loader) run(id SessionID, gen uint64, client Client) {
	logger := log.With().
		Str("module", "catalog.loader").
		Str("sid", id.Short()).
		Uint64("gen", gen).
		Logger()

	limit := rate.Inf
	if l.rps > 0 {
		limit = rate.Limit(l.rps)
	}

	j := &job{
		id:             id,
		gen:            gen,
		client:         client,
		status:         l.status,
		limiter:        rate.NewLimiter(limit, 1),
		maxRetries:     l.maxRetries,
		requirePreview: l.requirePreview,
		sleep:          l.sleep,
		logger:         logger,
	}

	started := time.Now()
	tracks, err := j.fetch(l.ctx)
	if err != nil {
		l.status.fail(id, gen, describeFailure(err))
		logger.Error().Err(err).Msg("catalog load failed")
		return
	}

	if !l.publish(id, gen, tracks) {
		logger.Info().Msg("discarding result of superseded load")
		return
	}
	logger.Info().
		Int("tracks", len(tracks)).
		Dur("took", time.Since(started)).
		Msg("catalog loaded")
}

// job is the state of a single load run.
type job struct {
	id             SessionID
	gen            uint64
	client         Client
	status         *StatusTracker
	limiter        *rate.Limiter
	maxRetries     int
	requirePreview bool
	sleep          func(ctx context.Context, d time.Duration) error
	logger         zerolog.Logger
}

// fetch enumerates all playlists and their tracks, deduplicating by track ID.
// A track found in several playlists is attributed to the first one listed.
func (j *job) fetch(ctx context.Context) (Catalog, error) {
	playlists, err := j.playlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing playlists: %w", err)
	}

	seen := make(map[string]struct{})
	tracks := Catalog{}

	for i, p := range playlists {
		offset := 0
		for {
			page, err := withRetry(ctx, j, func(ctx context.Context) (Page[RawTrack], error) {
				return j.client.PlaylistTracks(ctx, p.ID, offset)
			})
			if err != nil {
				return nil, fmt.Errorf("listing tracks of %q: %w", p.Name, err)
			}

			for _, raw := range page.Items {
				if _, dup := seen[raw.ID]; dup {
					continue
				}
				t, ok := normalize(raw, p.Name, j.requirePreview)
				if !ok {
					continue
				}
				seen[t.ID] = struct{}{}
				tracks = append(tracks, t)
			}

			if !page.More {
				break
			}
			offset = page.NextOffset
		}

		j.status.progress(j.id, j.gen, runningProgress(i+1, len(playlists)), p.Name, len(tracks))
		j.logger.Debug().
			Str("playlist", p.Name).
			Int("done", i+1).
			Int("total", len(playlists)).
			Msg("playlist loaded")
	}

	return tracks, nil
}

func (j *job) playlists(ctx context.Context) ([]Playlist, error) {
	var all []Playlist
	offset := 0
	for {
		page, err := withRetry(ctx, j, func(ctx context.Context) (Page[Playlist], error) {
			return j.client.Playlists(ctx, offset)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.More {
			return all, nil
		}
		offset = page.NextOffset
	}
}

// withRetry paces and retries call. Rate limits wait for the server-provided delay;
// transient failures back off exponentially. Anything else is returned at once.
func withRetry[T any](ctx context.Context, j *job, call func(context.Context) (T, error)) (T, error) {
	var zero T
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		if err := j.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		v, err := call(ctx)
		if err == nil {
			return v, nil
		}

		var rl *RateLimitError
		isRateLimit := errors.As(err, &rl)
		if !isRateLimit && !errors.Is(err, ErrTransientFetch) {
			return zero, err
		}
		if attempt >= j.maxRetries {
			return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		delay := backoff
		if isRateLimit && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		} else {
			backoff = min(backoff*2, maxBackoff)
		}

		j.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying catalog request")
		if err := j.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// runningProgress is floor(done/total*100), held below 100 until the catalog is published.
func runningProgress(done, total int) int {
	if total <= 0 {
		return 0
	}
	return min(done*100/total, 99)
}

// describeFailure turns a load error into a message for the loading page.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return "Spotify rejected the login, please sign in again: " + err.Error()
	case errors.Is(err, ErrRetriesExhausted):
		return "Spotify kept failing, please try again later: " + err.Error()
	default:
		return "Loading your playlists failed: " + err.Error()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
