package motion

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/otelhan/venice/errors"
)

// SimSource generates a smooth random-walk movement signal, used when no
// camera feed or recording is available: demos, soak tests, and the
// workbench rig.
type SimSource struct {
	regions int
	tick    time.Duration
	rng     *rand.Rand
	scaler  *Scaler

	out chan Batch

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSimSource creates a simulated source over the given region count.
func NewSimSource(regions int, tick time.Duration, seed int64) *SimSource {
	if regions <= 0 {
		regions = 30
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &SimSource{
		regions: regions,
		tick:    tick,
		rng:     rand.New(rand.NewSource(seed)),
		scaler:  NewScaler(10),
		out:     make(chan Batch, 16),
	}
}

// Start begins emitting one batch per tick.
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "SimSource", "Start", "already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(ctx)
	return nil
}

// Batches returns the generated batch channel.
func (s *SimSource) Batches() <-chan Batch {
	return s.out
}

// Stop halts generation.
func (s *SimSource) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "SimSource", "Stop", "not started")
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "SimSource", "Stop", "shutdown timeout")
	}
}

func (s *SimSource) run(ctx context.Context) {
	defer func() {
		close(s.out)
		close(s.done)
	}()

	levels := make([]float64, s.regions)
	for i := range levels {
		levels[i] = s.rng.Float64() * 5
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	frame := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		tsin, tcos := TimeEncoding(now)
		b := Batch{
			FrameIndex: frame,
			Timestamp:  now,
			TSin:       tsin,
			TCos:       tcos,
			Vectors:    make([]Vector, s.regions),
		}
		for i := range b.Vectors {
			levels[i] += s.rng.NormFloat64()
			if levels[i] < 0 {
				levels[i] = 0
			}
			b.Vectors[i] = Vector{
				RegionID:  uint16(i),
				Magnitude: s.scaler.Scale(levels[i]),
				DX:        s.rng.NormFloat64(),
				DY:        s.rng.NormFloat64(),
			}
		}
		frame++

		select {
		case s.out <- b:
		case <-ctx.Done():
			return
		}
	}
}
