// Package snapshot samples coarse world counters at a fixed simulation-time
// interval and folds the encoded records into a single 64-bit hash. Two runs
// with the same seed and command sequence must produce the same byte stream
// and therefore the same hash.
package snapshot

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultIntervalMs is the sampling interval used when none is configured.
const DefaultIntervalMs int64 = 1000

const recordTerminator = ';'

// Snapshot is one coarse sample of world state. All fields are integers so
// the encoding is exact.
type Snapshot struct {
	Now         int64 `msgpack:"now"`
	Enemies     int   `msgpack:"enemies"`
	Projectiles int   `msgpack:"proj"`
	FPS         int   `msgpack:"fps"`
}

// AppendEncoded appends the whitespace-free record "now|enemies|proj|fps;".
func (s Snapshot) AppendEncoded(dst []byte) []byte {
	dst = strconv.AppendInt(dst, s.Now, 10)
	dst = append(dst, '|')
	dst = strconv.AppendInt(dst, int64(s.Enemies), 10)
	dst = append(dst, '|')
	dst = strconv.AppendInt(dst, int64(s.Projectiles), 10)
	dst = append(dst, '|')
	dst = strconv.AppendInt(dst, int64(s.FPS), 10)
	return append(dst, recordTerminator)
}

// String returns the encoded record.
func (s Snapshot) String() string {
	return string(s.AppendEncoded(nil))
}

// Counters supplies the aggregate values sampled into a Snapshot.
type Counters struct {
	Enemies     int
	Projectiles int
	FPS         int
}

// Writer records snapshots while armed. It keeps a running digest so Hash is
// O(1) regardless of run length.
type Writer struct {
	intervalMs int64
	armed      bool
	last       int64
	records    []Snapshot
	encoded    []byte
	digest     *xxhash.Digest
	scratch    []byte
}

// NewWriter returns a disarmed writer. A non-positive interval falls back to
// DefaultIntervalMs.
func NewWriter(intervalMs int64) *Writer {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	return &Writer{
		intervalMs: intervalMs,
		digest:     xxhash.New(),
		scratch:    make([]byte, 0, 64),
	}
}

// IntervalMs returns the sampling interval.
func (w *Writer) IntervalMs() int64 {
	return w.intervalMs
}

// Start arms the writer at simulation time t0, discarding anything recorded
// by a previous run.
func (w *Writer) Start(t0 int64) {
	w.Clear()
	w.armed = true
	w.last = t0
}

// Stop disarms the writer; recorded snapshots are kept until Clear or Start.
func (w *Writer) Stop() {
	w.armed = false
}

// Clear drops every recorded snapshot and resets the digest.
func (w *Writer) Clear() {
	w.records = w.records[:0]
	w.encoded = w.encoded[:0]
	w.digest.Reset()
	w.last = 0
}

// Active reports whether the writer is armed.
func (w *Writer) Active() bool {
	return w.armed
}

// Sample records a snapshot when at least one interval has passed since the
// previous one. It never interpolates: at most one record is produced per
// call, stamped with now.
func (w *Writer) Sample(now int64, c Counters) bool {
	if !w.armed {
		return false
	}
	if now-w.last < w.intervalMs {
		return false
	}
	s := Snapshot{Now: now, Enemies: c.Enemies, Projectiles: c.Projectiles, FPS: c.FPS}
	w.last = now
	w.records = append(w.records, s)

	w.scratch = s.AppendEncoded(w.scratch[:0])
	w.encoded = append(w.encoded, w.scratch...)
	_, _ = w.digest.Write(w.scratch)
	return true
}

// Len returns the number of recorded snapshots.
func (w *Writer) Len() int {
	return len(w.records)
}

// Snapshots returns a copy of the recorded snapshots in time order.
func (w *Writer) Snapshots() []Snapshot {
	out := make([]Snapshot, len(w.records))
	copy(out, w.records)
	return out
}

// Encoded returns a copy of the concatenated record stream.
func (w *Writer) Encoded() []byte {
	out := make([]byte, len(w.encoded))
	copy(out, w.encoded)
	return out
}

// Hash returns the determinism hash of everything recorded so far.
func (w *Writer) Hash() uint64 {
	return w.digest.Sum64()
}

// Encode concatenates the encoded form of snaps.
func Encode(snaps []Snapshot) []byte {
	out := make([]byte, 0, len(snaps)*24)
	for _, s := range snaps {
		out = s.AppendEncoded(out)
	}
	return out
}

// Hash64 hashes an encoded stream with the same function the Writer uses.
func Hash64(encoded []byte) uint64 {
	return xxhash.Sum64(encoded)
}

// HashString formats a hash the way baselines and reports print it.
func HashString(h uint64) string {
	return strconv.FormatUint(h, 16)
}
