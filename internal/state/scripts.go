// internal/state/scripts.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/stratforge/internal/types"
)

// ScriptMeta describes one saved script file.
type ScriptMeta struct {
	ID           types.ScriptID `json:"id"`
	Prompt       string         `json:"prompt"`
	CodeHash     string         `json:"code_hash"`
	QualityScore float64        `json:"quality_score,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ScriptStore saves generated scripts to disk, one .pine file plus a
// JSON metadata sidecar per script, under scripts/<id>.pine.
type ScriptStore struct {
	root string
}

// NewScriptStore creates a file-backed ScriptStore rooted at the given directory.
func NewScriptStore(root string) *ScriptStore {
	return &ScriptStore{root: root}
}

func (s *ScriptStore) scriptsDir() string {
	return filepath.Join(s.root, "scripts")
}

func (s *ScriptStore) scriptPath(id types.ScriptID) string {
	return filepath.Join(s.scriptsDir(), string(id)+".pine")
}

func (s *ScriptStore) metaPath(id types.ScriptID) string {
	return filepath.Join(s.scriptsDir(), string(id)+".json")
}

// Save writes the script and its metadata, returning the new script ID.
func (s *ScriptStore) Save(prompt, code string, qualityScore float64) (types.ScriptID, error) {
	id := types.NewScriptID()

	if err := os.MkdirAll(s.scriptsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}

	meta := &ScriptMeta{
		ID:           id,
		Prompt:       prompt,
		CodeHash:     HashCode(code),
		QualityScore: qualityScore,
		CreatedAt:    time.Now().UTC(),
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal script meta: %w", err)
	}

	// Write the sidecar first so a listed script always has metadata.
	if err := writeAtomic(s.metaPath(id), metaData); err != nil {
		return "", err
	}
	if err := writeAtomic(s.scriptPath(id), []byte(code)); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the code and metadata for the given script.
func (s *ScriptStore) Get(id types.ScriptID) (string, *ScriptMeta, error) {
	code, err := os.ReadFile(s.scriptPath(id))
	if err != nil {
		return "", nil, fmt.Errorf("read script: %w", err)
	}

	metaData, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return "", nil, fmt.Errorf("read script meta: %w", err)
	}
	var meta ScriptMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return "", nil, fmt.Errorf("unmarshal script meta: %w", err)
	}
	return string(code), &meta, nil
}

// List returns metadata for all saved scripts, oldest first.
func (s *ScriptStore) List() ([]*ScriptMeta, error) {
	pattern := filepath.Join(s.scriptsDir(), "*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob scripts: %w", err)
	}

	metas := make([]*ScriptMeta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read script meta: %w", err)
		}
		var meta ScriptMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal script meta %s: %w", path, err)
		}
		metas = append(metas, &meta)
	}

	// Glob order is lexical; sort by creation time instead.
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].CreatedAt.Before(metas[j-1].CreatedAt); j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
	return metas, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
