package tape

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"
)

const (
	ManifestFile = "tape_manifest.json"
	EntriesFile  = "tape_entries.json"
)

// Canonical returns the RFC 8785 form of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Digest returns the hex SHA-256 of the manifest's canonical form.
func (m *Manifest) Digest() (string, error) {
	b, err := Canonical(m)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// WriteManifest writes the canonical manifest to dir.
func WriteManifest(dir string, manifest *Manifest) error {
	data, err := Canonical(manifest)
	if err != nil {
		return fmt.Errorf("tape manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0600)
}

// ReadManifest reads the manifest from dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read tape manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse tape manifest: %w", err)
	}
	return &manifest, nil
}

// WriteEntries writes the canonical entry list to dir.
func WriteEntries(dir string, entries []Entry) error {
	data, err := Canonical(entries)
	if err != nil {
		return fmt.Errorf("tape entries: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, EntriesFile), data, 0600)
}

// ReadEntries reads the entry list from dir.
func ReadEntries(dir string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, EntriesFile))
	if err != nil {
		return nil, fmt.Errorf("read tape entries: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse tape entries: %w", err)
	}
	return entries, nil
}

// VerifyManifestIntegrity checks all manifest entries have valid hashes.
func VerifyManifestIntegrity(entries []Entry, manifest *Manifest) []string {
	var issues []string
	entryMap := make(map[uint64]*Entry, len(entries))
	for i := range entries {
		entryMap[entries[i].Seq] = &entries[i]
	}

	for _, item := range manifest.Entries {
		entry, ok := entryMap[item.Seq]
		if !ok {
			issues = append(issues, fmt.Sprintf("seq=%d referenced in manifest but not in entries", item.Seq))
			continue
		}
		h := sha256.Sum256(entry.Value)
		computed := hex.EncodeToString(h[:])
		if computed != item.SHA256 {
			issues = append(issues, fmt.Sprintf("seq=%d hash mismatch: expected %s, got %s", item.Seq, item.SHA256, computed))
		}
	}
	return issues
}
