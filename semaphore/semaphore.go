package semaphore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultLimit is the slot count used when a pool has no explicit limit.
	DefaultLimit = 10
	// DefaultWaitTimeout bounds how long Acquire polls for a free slot.
	DefaultWaitTimeout = 30 * time.Second
	// DefaultStaleTimeout is the age after which an unreleased holder is reclaimed.
	DefaultStaleTimeout = 300 * time.Second

	retryInterval = 500 * time.Millisecond
	poolKeyPrefix = "executor:semaphore:"
)

// ErrHolderReused indicates Acquire was called on a holder that already
// went through an acquire attempt. Holders are single-use.
var ErrHolderReused = errors.New("semaphore holder cannot be reused")

// Options configures a single-use Holder.
type Options struct {
	// Name selects the pool. Two holders with the same name compete
	// for the same slots.
	Name string
	// Limit is the pool's slot count. Zero or negative means DefaultLimit.
	Limit int
	// WaitTimeout bounds the acquire polling loop. Zero means DefaultWaitTimeout.
	WaitTimeout time.Duration
	// StaleTimeout is the holder age beyond which a slot is reclaimed.
	// Zero means DefaultStaleTimeout.
	StaleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = DefaultStaleTimeout
	}
	return o
}

func (o Options) poolKey() string {
	return poolKeyPrefix + o.Name
}

type holderState int

const (
	stateUnacquired holderState = iota
	stateAcquiring
	stateHeld
	stateReleased
)

// Holder is a single-use claim on one semaphore slot. It is not safe
// for concurrent use; a match owns exactly one holder for its lifetime.
type Holder struct {
	store *Store
	opts  Options
	token string
	state holderState
}

// NewHolder creates an unacquired holder for the pool named in opts.
func (s *Store) NewHolder(opts Options) *Holder {
	return &Holder{
		store: s,
		opts:  opts.withDefaults(),
		token: uuid.New().String(),
	}
}

// Acquire polls for a free slot until one is claimed or the wait
// timeout elapses. It returns true when the slot is held and false,
// without error, when the pool stayed full for the whole wait window.
// Any second call on the same holder fails with ErrHolderReused.
func (h *Holder) Acquire(ctx context.Context) (bool, error) {
	if h.state != stateUnacquired {
		return false, ErrHolderReused
	}
	h.state = stateAcquiring

	pool := h.opts.poolKey()
	deadline := time.Now().Add(h.opts.WaitTimeout)
	for {
		acquired, err := h.store.tryAcquire(ctx, pool, h.token, h.opts.Limit, h.opts.StaleTimeout)
		if err != nil {
			log.Error().Err(err).Str("pool", h.opts.Name).Msg("semaphore: acquire attempt failed")
			return false, err
		}
		if acquired {
			h.state = stateHeld
			log.Debug().Str("pool", h.opts.Name).Str("token", h.token).Msg("semaphore: slot acquired")
			return true, nil
		}
		if time.Now().After(deadline) {
			log.Warn().Str("pool", h.opts.Name).Dur("waited", h.opts.WaitTimeout).Msg("semaphore: wait timeout, pool full")
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release returns the held slot. It reports false when there was
// nothing to release: the holder never held a slot, already released
// it, or the slot was reclaimed as stale in the meantime. Release
// never fails; a reclaimed token is logged and treated as done.
func (h *Holder) Release() bool {
	if h.state != stateHeld {
		log.Warn().Str("pool", h.opts.Name).Msg("semaphore: release without held slot")
		return false
	}
	h.state = stateReleased

	removed, err := h.store.removeHolder(context.Background(), h.opts.poolKey(), h.token)
	if err != nil {
		log.Error().Err(err).Str("pool", h.opts.Name).Str("token", h.token).Msg("semaphore: release failed")
		return false
	}
	if !removed {
		log.Warn().Str("pool", h.opts.Name).Str("token", h.token).Msg("semaphore: token already removed, possibly reclaimed as stale")
		return false
	}
	log.Debug().Str("pool", h.opts.Name).Str("token", h.token).Msg("semaphore: slot released")
	return true
}

// AvailableSlots reports how many slots the pool has free right now.
func (s *Store) AvailableSlots(ctx context.Context, opts Options) (int, error) {
	opts = opts.withDefaults()
	count, err := s.countLive(ctx, opts.poolKey(), opts.StaleTimeout)
	if err != nil {
		return 0, err
	}
	free := opts.Limit - count
	if free < 0 {
		free = 0
	}
	return free, nil
}

// Manager hands out holders for named pools with shared defaults.
type Manager struct {
	store        *Store
	defaultLimit int
	waitTimeout  time.Duration
	staleTimeout time.Duration
}

// NewManager wraps store with pool defaults. Zero values fall back to
// the package defaults.
func NewManager(store *Store, defaultLimit int, waitTimeout, staleTimeout time.Duration) *Manager {
	return &Manager{
		store:        store,
		defaultLimit: defaultLimit,
		waitTimeout:  waitTimeout,
		staleTimeout: staleTimeout,
	}
}

// Holder returns a fresh single-use holder for the named pool. A
// non-positive limit uses the manager default.
func (m *Manager) Holder(name string, limit int) *Holder {
	if limit <= 0 {
		limit = m.defaultLimit
	}
	return m.store.NewHolder(Options{
		Name:         name,
		Limit:        limit,
		WaitTimeout:  m.waitTimeout,
		StaleTimeout: m.staleTimeout,
	})
}
