// Package tape records what a scenario run depended on: its random seed, the
// payloads it rendered and the requests and responses it exchanged. A tape
// can be replayed in place of a live server.
package tape

import "time"

// EntryType classifies a recorded value.
type EntryType string

const (
	EntryTypeRNGSeed  EntryType = "RNG_SEED"
	EntryTypeRender   EntryType = "RENDER"
	EntryTypeRequest  EntryType = "REQUEST"
	EntryTypeResponse EntryType = "RESPONSE"
)

// Entry is a single recorded value.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Type      EntryType `json:"type"`
	Scenario  string    `json:"scenario"`
	Key       string    `json:"key"`
	ValueHash string    `json:"value_hash"`
	Value     []byte    `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Manifest is the tape_manifest.json structure.
type Manifest struct {
	RunID   string         `json:"run_id"`
	Entries []ManifestItem `json:"entries"`
}

// ManifestItem references a tape entry with its hash.
type ManifestItem struct {
	Seq       uint64    `json:"seq"`
	Type      EntryType `json:"type"`
	Scenario  string    `json:"scenario"`
	Key       string    `json:"key"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
}
