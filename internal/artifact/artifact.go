package artifact

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rajchodisetti/replay-engine/internal/clock"
)

// ResultVersion is bumped whenever the persisted run-result shape changes, so
// artifacts from different builds can be compared safely.
const ResultVersion = 1

// Entry is one journal line: what happened and when, in virtual time.
type Entry struct {
	Type  string `json:"type"` // "order" | "fill"
	Data  any    `json:"data"`
	Event string `json:"event"`
}

// Journal is an append-only JSONL record of orders and fills for a run.
type Journal struct {
	mu   sync.Mutex
	path string
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Journal{path: path}, nil
}

func (j *Journal) WriteOrder(order any) error { return j.append("order", order) }

func (j *Journal) WriteFill(fill any) error { return j.append("fill", fill) }

func (j *Journal) append(entryType string, data any) error {
	entry := Entry{
		Type:  entryType,
		Data:  data,
		Event: clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// WriteResult persists a run result atomically via temp file + rename.
func WriteResult(path string, result any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp run result: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename run result: %w", err)
	}
	return nil
}

// NewRunID derives a short, reproducible run identifier from the simulated
// date and seed, so re-running the same configuration names the same run.
func NewRunID(date string, seed int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", date, seed)))
	return fmt.Sprintf("sim_%x", sum[:8])
}
