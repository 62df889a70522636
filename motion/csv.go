package motion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/otelhan/venice/errors"
)

// CSVSource replays recorded movement-vector files at a fixed tick, the
// way the builder node replays capture sessions. Expected layout: a
// header row, a timestamp first column, optional t_sin/t_cos columns,
// and one column per region value.
type CSVSource struct {
	path   string
	tick   time.Duration
	loop   bool
	logger *slog.Logger

	out chan Batch

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCSVSource creates a replay source. With loop set the file restarts
// from the top on EOF; otherwise the batch channel closes.
func NewCSVSource(path string, tick time.Duration, loop bool, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &CSVSource{
		path:   path,
		tick:   tick,
		loop:   loop,
		logger: logger.With("component", "motion", "source", "csv", "path", path),
		out:    make(chan Batch, 16),
	}
}

// Start parses the file and begins emitting one batch per tick.
func (s *CSVSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "CSVSource", "Start", "already started")
	}

	batches, err := loadCSV(s.path)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("no data rows in %s", s.path),
			"CSVSource", "Start", "file validation")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(ctx, batches)
	return nil
}

// Batches returns the replay channel.
func (s *CSVSource) Batches() <-chan Batch {
	return s.out
}

// Stop halts replay.
func (s *CSVSource) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "CSVSource", "Stop", "not started")
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
			fmt.Errorf("replay loop still running after %v", timeout),
			"CSVSource", "Stop", "shutdown timeout")
	}
}

func (s *CSVSource) run(ctx context.Context, batches []Batch) {
	defer func() {
		close(s.out)
		close(s.done)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	frame := uint64(0)
	for {
		for _, b := range batches {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			b.FrameIndex = frame
			frame++
			select {
			case s.out <- b:
			case <-ctx.Done():
				return
			}
		}
		if !s.loop {
			s.logger.Info("replay finished", "frames", frame)
			return
		}
		s.logger.Debug("replay looping", "frames", frame)
	}
}

// loadCSV parses a recorded vector file into batches.
func loadCSV(path string) ([]Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "CSVSource", "load", "open file")
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.WrapInvalid(err, "CSVSource", "load", "read header")
	}

	tsCol, sinCol, cosCol := -1, -1, -1
	var valueCols []int
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "time":
			tsCol = i
		case "t_sin":
			sinCol = i
		case "t_cos":
			cosCol = i
		default:
			valueCols = append(valueCols, i)
		}
	}
	if len(valueCols) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no value columns in header %v", header),
			"CSVSource", "load", "header validation")
	}

	var batches []Batch
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("line %d: %w", line, err), "CSVSource", "load", "read record")
		}

		b := Batch{Vectors: make([]Vector, 0, len(valueCols))}
		if tsCol >= 0 {
			b.Timestamp = parseTimestamp(record[tsCol])
		}
		for regionID, col := range valueCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("line %d column %q: %w", line, header[col], err),
					"CSVSource", "load", "parse value")
			}
			b.Vectors = append(b.Vectors, Vector{RegionID: uint16(regionID), Magnitude: v})
		}

		if sinCol >= 0 && cosCol >= 0 {
			if tsin, err := strconv.ParseFloat(strings.TrimSpace(record[sinCol]), 64); err == nil {
				b.TSin = tsin
			}
			if tcos, err := strconv.ParseFloat(strings.TrimSpace(record[cosCol]), 64); err == nil {
				b.TCos = tcos
			}
		} else if !b.Timestamp.IsZero() {
			b.TSin, b.TCos = TimeEncoding(b.Timestamp)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// parseTimestamp accepts RFC3339 or unix seconds (integer or fractional).
// An unparseable stamp yields the zero time rather than failing the file.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		frac := secs - float64(whole)
		return time.Unix(whole, int64(frac*1e9))
	}
	return time.Time{}
}
