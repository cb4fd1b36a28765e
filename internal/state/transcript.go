// internal/state/transcript.go
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/stratforge/internal/types"
)

// TranscriptLog is a JSONL append-only record of conversation turns.
// The serve daemon feeds it from a session store subscription so the
// conversation survives restarts for later inspection.
type TranscriptLog struct {
	path string
	mu   sync.Mutex
}

// NewTranscriptLog creates a file-backed TranscriptLog at the given path.
func NewTranscriptLog(path string) *TranscriptLog {
	return &TranscriptLog{path: path}
}

// Append writes one turn as a JSON line. Pending turns are skipped;
// only settled conversation entries are worth persisting.
func (l *TranscriptLog) Append(turn types.ConversationTurn) error {
	if turn.Pending {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write turn: %w", err)
	}
	return nil
}

// Tail returns the last limit turns, oldest first. A limit <= 0 returns
// all turns.
func (l *TranscriptLog) Tail(limit int) ([]types.ConversationTurn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	var turns []types.ConversationTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var turn types.ConversationTurn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript file: %w", err)
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
