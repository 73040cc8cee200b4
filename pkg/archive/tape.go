package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hansl/specification/pkg/tape"
)

// SaveTape stores every entry value and then the canonical manifest, and
// returns the manifest's hash. The hash is all LoadTape needs.
func SaveTape(ctx context.Context, s Store, manifest *tape.Manifest, entries []tape.Entry) (string, error) {
	if issues := tape.VerifyManifestIntegrity(entries, manifest); len(issues) > 0 {
		return "", fmt.Errorf("archive: tape does not match its manifest: %s", strings.Join(issues, "; "))
	}
	for _, e := range entries {
		if _, err := s.Put(ctx, e.Value); err != nil {
			return "", fmt.Errorf("archive: store entry seq=%d: %w", e.Seq, err)
		}
	}
	data, err := tape.Canonical(manifest)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return s.Put(ctx, data)
}

// LoadTape rebuilds the entries of an archived tape. Entry timestamps are
// not archived and come back zero.
func LoadTape(ctx context.Context, s Store, manifestHash string) (*tape.Manifest, []tape.Entry, error) {
	data, err := s.Get(ctx, manifestHash)
	if err != nil {
		return nil, nil, err
	}
	var manifest tape.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("archive: parse manifest %s: %w", manifestHash, err)
	}

	entries := make([]tape.Entry, 0, len(manifest.Entries))
	for _, item := range manifest.Entries {
		value, err := s.Get(ctx, "sha256:"+item.SHA256)
		if err != nil {
			return nil, nil, fmt.Errorf("archive: entry seq=%d: %w", item.Seq, err)
		}
		entries = append(entries, tape.Entry{
			Seq:       item.Seq,
			Type:      item.Type,
			Scenario:  item.Scenario,
			Key:       item.Key,
			ValueHash: item.SHA256,
			Value:     value,
		})
	}
	if issues := tape.VerifyManifestIntegrity(entries, &manifest); len(issues) > 0 {
		return nil, nil, fmt.Errorf("archive: tape %s is corrupt: %s", manifestHash, strings.Join(issues, "; "))
	}
	return &manifest, entries, nil
}
