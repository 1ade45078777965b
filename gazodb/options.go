package gazodb

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type config struct {
	logger *slog.Logger
	now    func() time.Time
	rng    *lockedRand
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithRand sets the random source used for sampling. Components built together by Open share one
// mutex-guarded source; do not hand the same *rand.Rand to separately constructed components.
func WithRand(r *rand.Rand) Option {
	return func(c *config) {
		c.rng = &lockedRand{r: r}
	}
}

func newConfig(system string, opts []Option) *config {
	c := &config{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("system", system)
	if c.rng == nil {
		c.rng = &lockedRand{r: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))}
	}
	return c
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
