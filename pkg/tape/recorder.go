package tape

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// Recorder captures the inputs and outputs of a run.
type Recorder struct {
	mu      sync.Mutex
	runID   string
	entries []Entry
	seq     uint64
	clock   func() time.Time
}

// NewRecorder creates a new tape recorder.
func NewRecorder(runID string) *Recorder {
	return &Recorder{
		runID:   runID,
		entries: make([]Entry, 0),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

func (r *Recorder) RunID() string { return r.runID }

// Record appends a value.
func (r *Recorder) Record(entryType EntryType, scenario, key string, value []byte) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	h := sha256.Sum256(value)

	entry := Entry{
		Seq:       r.seq,
		Type:      entryType,
		Scenario:  scenario,
		Key:       key,
		ValueHash: hex.EncodeToString(h[:]),
		Value:     value,
		Timestamp: r.clock(),
	}
	r.entries = append(r.entries, entry)
	return &entry
}

// RecordRNGSeed captures the seed a scenario's random source was created
// with, big-endian.
func (r *Recorder) RecordRNGSeed(scenario string, seed uint64) *Entry {
	return r.Record(EntryTypeRNGSeed, scenario, "rng_seed", binary.BigEndian.AppendUint64(nil, seed))
}

// RecordRender captures the CBOR payload a template rendered to.
func (r *Recorder) RecordRender(scenario, name string, payload []byte) *Entry {
	return r.Record(EntryTypeRender, scenario, name, payload)
}

// RecordRequest captures an encoded request.
func (r *Recorder) RecordRequest(scenario, method string, request []byte) *Entry {
	return r.Record(EntryTypeRequest, scenario, method, request)
}

// RecordResponse captures an encoded response.
func (r *Recorder) RecordResponse(scenario, method string, response []byte) *Entry {
	return r.Record(EntryTypeResponse, scenario, method, response)
}

// Entries returns all recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// BuildManifest creates a tape manifest from recorded entries.
func (r *Recorder) BuildManifest() *Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]ManifestItem, len(r.entries))
	for i, e := range r.entries {
		items[i] = ManifestItem{
			Seq:       e.Seq,
			Type:      e.Type,
			Scenario:  e.Scenario,
			Key:       e.Key,
			SHA256:    e.ValueHash,
			SizeBytes: int64(len(e.Value)),
		}
	}

	return &Manifest{
		RunID:   r.runID,
		Entries: items,
	}
}

// Count returns the number of recorded entries.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
