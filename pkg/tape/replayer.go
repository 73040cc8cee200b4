package tape

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Replayer serves taped values during replay. Every miss fails closed with
// a REPLAY_TAPE_MISS error.
type Replayer struct {
	mu        sync.Mutex
	seeds     map[string]*Entry
	renders   map[string][]*Entry
	exchanges map[string][]*Entry
	cursors   map[string]int
	rendered  map[string]int
}

// NewReplayer creates a replayer from recorded entries.
func NewReplayer(entries []Entry) *Replayer {
	r := &Replayer{
		seeds:     make(map[string]*Entry),
		renders:   make(map[string][]*Entry),
		exchanges: make(map[string][]*Entry),
		cursors:   make(map[string]int),
		rendered:  make(map[string]int),
	}
	for i := range entries {
		e := entries[i]
		switch e.Type {
		case EntryTypeRNGSeed:
			if _, seen := r.seeds[e.Scenario]; !seen {
				r.seeds[e.Scenario] = &e
			}
		case EntryTypeRender:
			r.renders[e.Scenario] = append(r.renders[e.Scenario], &e)
		case EntryTypeRequest, EntryTypeResponse:
			r.exchanges[e.Scenario] = append(r.exchanges[e.Scenario], &e)
		}
	}
	return r
}

// Seed returns the first random seed recorded for scenario.
func (r *Replayer) Seed(scenario string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.seeds[scenario]
	if !ok || len(entry.Value) != 8 {
		return 0, fmt.Errorf("REPLAY_TAPE_MISS: no rng seed for scenario %q", scenario)
	}
	return binary.BigEndian.Uint64(entry.Value), nil
}

// NextExchange returns the next recorded request and its response for
// scenario.
func (r *Replayer) NextExchange(scenario string) (request, response *Entry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.exchanges[scenario]
	i := r.cursors[scenario]
	if i+1 >= len(list) {
		return nil, nil, fmt.Errorf("REPLAY_TAPE_MISS: scenario %q exhausted after %d exchanges", scenario, i/2)
	}
	request, response = list[i], list[i+1]
	if request.Type != EntryTypeRequest || response.Type != EntryTypeResponse {
		return nil, nil, fmt.Errorf("REPLAY_TAPE_MISS: scenario %q has unpaired entry at seq=%d", scenario, request.Seq)
	}
	r.cursors[scenario] = i + 2
	return request, response, nil
}

// NextRender returns the next taped render of scenario, in recording order.
func (r *Replayer) NextRender(scenario string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.renders[scenario]
	i := r.rendered[scenario]
	if i >= len(list) {
		return nil, fmt.Errorf("REPLAY_TAPE_MISS: scenario %q exhausted after %d renders", scenario, i)
	}
	r.rendered[scenario] = i + 1
	return list[i], nil
}
