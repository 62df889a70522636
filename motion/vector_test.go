package motion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalerMapsIntoActuatorRange(t *testing.T) {
	s := NewScaler(100)

	assert.Equal(t, 20.0, s.Scale(0), "zero motion still commands the minimum actuation")
	assert.Equal(t, 127.0, s.Scale(100))
	assert.InDelta(t, 73.5, s.Scale(50), 1e-9)

	// Negative raw values clamp to zero motion.
	assert.Equal(t, 20.0, s.Scale(-5))
}

func TestScalerTracksRunningMax(t *testing.T) {
	s := NewScaler(10)

	assert.Equal(t, 127.0, s.Scale(10))
	// A louder frame raises the ceiling; the same raw value now maps lower.
	assert.Equal(t, 127.0, s.Scale(40))
	assert.InDelta(t, 20+(10.0/40)*107, s.Scale(10), 1e-9)
}

func TestScaleBatch(t *testing.T) {
	s := NewScaler(100)
	b := Batch{Vectors: []Vector{
		{RegionID: 0, Magnitude: 0},
		{RegionID: 1, Magnitude: 100},
	}}
	s.ScaleBatch(&b)

	assert.Equal(t, []float64{20, 127}, b.Values())
}

func TestTimeEncoding(t *testing.T) {
	midnight, _ := time.Parse("15:04:05", "00:00:00")
	tsin, tcos := TimeEncoding(midnight)
	assert.InDelta(t, 0, tsin, 1e-9)
	assert.InDelta(t, 1, tcos, 1e-9)

	six, _ := time.Parse("15:04:05", "06:00:00")
	tsin, tcos = TimeEncoding(six)
	assert.InDelta(t, 1, tsin, 1e-9)
	assert.InDelta(t, 0, tcos, 1e-9)

	noon, _ := time.Parse("15:04:05", "12:00:00")
	tsin, tcos = TimeEncoding(noon)
	assert.InDelta(t, 0, tsin, 1e-9)
	assert.InDelta(t, -1, tcos, 1e-9)

	// The encoding is continuous across midnight.
	justBefore, _ := time.Parse("15:04:05", "23:59:59")
	tsin, tcos = TimeEncoding(justBefore)
	assert.InDelta(t, 0, tsin, 1e-3)
	assert.InDelta(t, 1, tcos, 1e-3)

	// And always on the unit circle.
	for hour := 0; hour < 24; hour++ {
		at := time.Date(2026, 8, 29, hour, 17, 3, 0, time.UTC)
		tsin, tcos := TimeEncoding(at)
		assert.InDelta(t, 1, tsin*tsin+tcos*tcos, 1e-9)
	}
}

func TestBatchMean(t *testing.T) {
	b := Batch{Vectors: []Vector{{Magnitude: 20}, {Magnitude: 40}, {Magnitude: 60}}}
	assert.Equal(t, 40.0, b.Mean())
	assert.Equal(t, 0.0, Batch{}.Mean())
}

func TestBatchPayloadRoundTrip(t *testing.T) {
	created := time.Unix(0, 1756400000000000000)
	b := Batch{
		FrameIndex: 12,
		Timestamp:  created,
		TSin:       0.5,
		TCos:       -0.5,
		Vectors: []Vector{
			{RegionID: 0, Magnitude: 21.5, DX: 1, DY: -1},
			{RegionID: 1, Magnitude: 99, DX: 0.25, DY: 0.75},
		},
	}

	got := BatchFromPayload(b.Payload(), created)
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func writeTestCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVReplay(t *testing.T) {
	path := writeTestCSV(t,
		"timestamp,roi_0,roi_1,roi_2,t_sin,t_cos\n"+
			"2026-08-29T10:00:00Z,20,55,127,0.5,-0.866\n"+
			"2026-08-29T10:00:01Z,21,56,126,0.5,-0.866\n")

	src := NewCSVSource(path, 5*time.Millisecond, false, nil)
	require.NoError(t, src.Start(context.Background()))
	defer func() { _ = src.Stop(time.Second) }()

	var got []Batch
	for b := range src.Batches() {
		got = append(got, b)
	}

	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].FrameIndex)
	assert.Equal(t, uint64(1), got[1].FrameIndex)
	assert.Equal(t, []float64{20, 55, 127}, got[0].Values())
	assert.Equal(t, 0.5, got[0].TSin)
	assert.Equal(t, 10, got[0].Timestamp.Hour())
}

func TestCSVReplayLoops(t *testing.T) {
	path := writeTestCSV(t, "timestamp,roi_0\n2026-08-29T10:00:00Z,42\n")

	src := NewCSVSource(path, time.Millisecond, true, nil)
	require.NoError(t, src.Start(context.Background()))
	defer func() { _ = src.Stop(time.Second) }()

	var frames []uint64
	for b := range src.Batches() {
		frames = append(frames, b.FrameIndex)
		if len(frames) == 3 {
			break
		}
	}
	assert.Equal(t, []uint64{0, 1, 2}, frames, "frame index keeps counting across loops")
}

func TestCSVDerivesTimeEncodingWhenAbsent(t *testing.T) {
	path := writeTestCSV(t, "timestamp,roi_0\n2026-08-29T06:00:00Z,42\n")

	src := NewCSVSource(path, time.Millisecond, false, nil)
	require.NoError(t, src.Start(context.Background()))
	defer func() { _ = src.Stop(time.Second) }()

	b, ok := <-src.Batches()
	require.True(t, ok)
	assert.InDelta(t, 1, b.TSin, 1e-9)
	assert.InDelta(t, 0, b.TCos, 1e-9)
}

func TestCSVRejectsMalformedFiles(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"), time.Millisecond, false, nil)
	require.Error(t, src.Start(context.Background()))

	empty := writeTestCSV(t, "timestamp,roi_0\n")
	require.Error(t, NewCSVSource(empty, time.Millisecond, false, nil).Start(context.Background()))

	bad := writeTestCSV(t, "timestamp,roi_0\n2026-08-29T10:00:00Z,not-a-number\n")
	require.Error(t, NewCSVSource(bad, time.Millisecond, false, nil).Start(context.Background()))
}

func TestSimSourceProducesScaledBatches(t *testing.T) {
	src := NewSimSource(30, time.Millisecond, 1)
	require.NoError(t, src.Start(context.Background()))
	defer func() { _ = src.Stop(time.Second) }()

	count := 0
	for b := range src.Batches() {
		require.Len(t, b.Vectors, 30)
		for _, v := range b.Vectors {
			assert.GreaterOrEqual(t, v.Magnitude, MinScaled)
			assert.LessOrEqual(t, v.Magnitude, MaxScaled)
		}
		tsin, tcos := b.TSin, b.TCos
		assert.InDelta(t, 1, tsin*tsin+tcos*tcos, 1e-9)

		count++
		if count == 5 {
			break
		}
	}
}

func TestParseTimestampFormats(t *testing.T) {
	rfc := parseTimestamp("2026-08-29T10:00:00Z")
	assert.Equal(t, 2026, rfc.Year())

	unix := parseTimestamp("1756461600")
	assert.False(t, unix.IsZero())

	fractional := parseTimestamp("1756461600.5")
	assert.Equal(t, int64(500*int64(time.Millisecond)), int64(fractional.Nanosecond()))

	garbage := parseTimestamp("yesterday")
	assert.True(t, garbage.IsZero())
}
