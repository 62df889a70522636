package training

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
	"github.com/otelhan/venice/pkg/buffer"
	"github.com/otelhan/venice/wire"
)

// Default training cadence and split parameters.
const (
	DefaultCapacity    = 500
	DefaultMinExamples = 50
	DefaultInterval    = 60 * time.Second
	DefaultSplitRatio  = 0.7
)

// Config tunes the training cadence.
type Config struct {
	// Capacity bounds the example buffer; the oldest example is evicted
	// on overflow.
	Capacity int

	// MinExamples triggers a cycle once this many new examples arrive.
	MinExamples int

	// Interval triggers a cycle on elapsed time regardless of arrivals.
	Interval time.Duration

	// SplitRatio is the train fraction of the ordered split.
	SplitRatio float64

	// Lambda is the ridge regularization strength.
	Lambda float64

	// Dimension is the reservoir state size the readout is fit against.
	Dimension int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MinExamples <= 0 {
		c.MinExamples = DefaultMinExamples
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SplitRatio <= 0 || c.SplitRatio >= 1 {
		c.SplitRatio = DefaultSplitRatio
	}
	if c.Lambda <= 0 {
		c.Lambda = DefaultLambda
	}
	if c.Dimension <= 0 {
		c.Dimension = 64
	}
	return c
}

// Deps holds the dependencies for a Supervisor.
type Deps struct {
	NodeID   string
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Config   Config

	// Publish sends a freshly trained model downstream. Nil disables
	// propagation; the model is still swapped locally.
	Publish func(ctx context.Context, p wire.ModelPayload) error
}

// Supervisor accumulates examples and periodically retrains the readout.
// Observe may be called from one producer goroutine concurrently with the
// training loop; the active model is read lock-free by any goroutine.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *trainerMetrics
	publish func(ctx context.Context, p wire.ModelPayload) error

	examples buffer.Buffer[Example]
	newSince atomic.Int64
	trigger  chan struct{}

	active  atomic.Pointer[ReadoutModel]
	updates atomic.Uint64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a supervisor from its dependencies.
func NewSupervisor(deps Deps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config.withDefaults()

	return &Supervisor{
		cfg:     cfg,
		logger:  logger.With("component", "training", "node", deps.NodeID),
		metrics: newTrainerMetrics(deps.Registry, deps.NodeID),
		publish: deps.Publish,
		examples: buffer.NewCircular[Example](cfg.Capacity,
			buffer.WithOverflowPolicy[Example](buffer.DropOldest)),
		trigger: make(chan struct{}, 1),
	}
}

// Observe appends one example. When the buffer is full the oldest
// example is evicted; training always sees the most recent window.
func (s *Supervisor) Observe(ex Example) {
	if err := s.examples.Write(ex); err != nil {
		s.logger.Warn("example dropped", "error", err)
		return
	}
	s.metrics.recordBuffered(s.examples.Size())

	if s.newSince.Add(1) >= int64(s.cfg.MinExamples) {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}
}

// Start launches the periodic training loop: a cycle runs when MinExamples
// new observations accumulate or Interval elapses, whichever comes first.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(ctx)
	return nil
}

// Stop halts the training loop.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Supervisor", "Stop", "not started")
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
		return errors.WrapTransient(
			fmt.Errorf("training loop still running after %v", timeout),
			"Supervisor", "Stop", "shutdown timeout")
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if err := s.TrainOnce(ctx); err != nil {
			if stderrors.Is(err, errors.ErrEmptyTrainingSplit) {
				s.logger.Debug("training cycle skipped", "reason", "empty split")
			} else {
				s.logger.Warn("training cycle failed", "error", err)
			}
		}
	}
}

// TrainOnce runs a single training cycle: ordered 70/30 split, ridge fit
// on the train half, evaluation on the test half, atomic model swap, and
// downstream publication. An empty split skips the cycle entirely: the
// active model and the update counter stay untouched.
func (s *Supervisor) TrainOnce(ctx context.Context) error {
	snapshot := s.examples.Snapshot()
	s.newSince.Store(0)

	// Ordered split: examples are time-correlated, shuffling would leak
	// test information into training.
	cut := int(float64(len(snapshot)) * s.cfg.SplitRatio)
	train, test := snapshot[:cut], snapshot[cut:]

	if len(train) == 0 || len(test) == 0 {
		s.metrics.recordCycle("skipped")
		return errors.WrapInvalid(
			fmt.Errorf("%w: train=%d test=%d", errors.ErrEmptyTrainingSplit, len(train), len(test)),
			"Supervisor", "TrainOnce", "split check")
	}

	weights, err := fitRidge(train, s.cfg.Dimension, s.cfg.Lambda)
	if err != nil {
		s.metrics.recordCycle("failed")
		return err
	}

	ev := evaluate(weights, test)
	ev.TrainSize = len(train)

	model := newModel(weights, ev, s.updates.Add(1))
	s.active.Store(model)
	s.metrics.recordCycle("trained")
	s.metrics.recordEvaluation(ev)
	s.logger.Info("readout retrained",
		"model", model.ID,
		"updates", model.UpdatesPerformed,
		"train_size", ev.TrainSize,
		"test_size", ev.TestSize,
		"accuracy", ev.Accuracy,
		"f1", ev.F1)

	if s.publish != nil {
		if err := s.publish(ctx, model.Payload()); err != nil {
			// The local swap already happened; propagation is retried
			// implicitly on the next cycle.
			s.logger.Warn("model publication failed", "model", model.ID, "error", err)
		}
	}
	return nil
}

// Model returns the active readout, or nil before the first cycle.
func (s *Supervisor) Model() *ReadoutModel {
	return s.active.Load()
}

// Adopt installs a model received from upstream. Nodes that do not train
// locally keep inference current this way.
func (s *Supervisor) Adopt(model *ReadoutModel) {
	if model == nil {
		return
	}
	s.active.Store(model)
	s.logger.Info("adopted model", "model", model.ID, "updates", model.UpdatesPerformed)
}

// Predict classifies a state with the active model.
func (s *Supervisor) Predict(state []float64) (int, error) {
	model := s.active.Load()
	if model == nil {
		return 0, errors.WrapInvalid(errors.ErrModelNotTrained, "Supervisor", "Predict", "model lookup")
	}
	return model.Predict(state), nil
}

// UpdatesPerformed returns the number of completed training cycles.
func (s *Supervisor) UpdatesPerformed() uint64 {
	return s.updates.Load()
}

// BufferedExamples returns the current example count.
func (s *Supervisor) BufferedExamples() int {
	return s.examples.Size()
}
