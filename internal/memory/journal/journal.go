// Package journal provides the on-disk JSON fallback for the memory
// engine's staging layers. When a persistence write fails, the
// affected layer's state is journaled here instead of lost; the
// journal is replayed on startup before normal operation resumes.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Names are the three staging journals spec.md names explicitly.
const (
	PerceptualFile     = "perceptual.json"
	ShortTermFile      = "short_term.json"
	PromotionQueueFile = "promotion_queue.json"
)

// Journal persists one staging layer's state as a single JSON file
// under dir, written atomically (temp file + rename) so a crash
// mid-write never leaves a half-written journal to replay.
type Journal struct {
	dir  string
	name string
}

// New returns a Journal for name (one of the *File constants, or any
// caller-chosen file name) under dir. dir is created if absent.
func New(dir, name string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create data directory: %w", err)
	}
	return &Journal{dir: dir, name: name}, nil
}

func (j *Journal) path() string {
	return filepath.Join(j.dir, j.name)
}

// Write serializes state as JSON and replaces the journal file
// atomically.
func (j *Journal) Write(state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", j.name, err)
	}

	tmp := j.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", j.name, err)
	}
	if err := os.Rename(tmp, j.path()); err != nil {
		return fmt.Errorf("journal: replace %s: %w", j.name, err)
	}
	return nil
}

// Read decodes the journal file into dest. A missing file is not an
// error: dest is left untouched and ok is false, signalling a clean
// startup with nothing to replay.
func (j *Journal) Read(dest any) (ok bool, err error) {
	data, err := os.ReadFile(j.path())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: read %s: %w", j.name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("journal: decode %s: %w", j.name, err)
	}
	return true, nil
}

// Clear removes the journal file, used once its state has been
// durably persisted elsewhere and no longer needs replay.
func (j *Journal) Clear() error {
	err := os.Remove(j.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
