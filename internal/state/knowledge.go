// internal/state/knowledge.go
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// GenerationRecord is one successful generation kept in the local
// knowledge base, keyed by the sha256 hash of its code.
type GenerationRecord struct {
	Prompt       string    `json:"prompt"`
	Code         string    `json:"code"`
	CodeHash     string    `json:"code_hash"`
	QualityScore float64   `json:"quality_score,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FeedbackRecord is one user verdict on a generated script.
type FeedbackRecord struct {
	CodeHash  string    `json:"code_hash"`
	Works     bool      `json:"works"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Match pairs a stored generation with its keyword-overlap score
// against a search prompt.
type Match struct {
	Record *GenerationRecord
	Score  int
}

// knowledgeFile is the on-disk layout of the knowledge base.
type knowledgeFile struct {
	Generations []*GenerationRecord `json:"generations"`
	Feedback    []*FeedbackRecord   `json:"feedback"`
}

// KnowledgeStore is a JSON-file-backed record of successful generations
// and submitted feedback.
type KnowledgeStore struct {
	path string
	mu   sync.RWMutex
}

// NewKnowledgeStore creates a file-backed KnowledgeStore at the given path.
func NewKnowledgeStore(path string) *KnowledgeStore {
	return &KnowledgeStore{path: path}
}

// HashCode returns the sha256 hex digest used to key generations and
// feedback to a specific script.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// RecordGeneration stores a successful generation. A generation whose
// code hash is already present is skipped, so re-running the same
// prompt never duplicates entries.
func (s *KnowledgeStore) RecordGeneration(prompt, code string, qualityScore float64, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return err
	}

	hash := HashCode(code)
	for _, rec := range db.Generations {
		if rec.CodeHash == hash {
			return nil
		}
	}

	db.Generations = append(db.Generations, &GenerationRecord{
		Prompt:       prompt,
		Code:         code,
		CodeHash:     hash,
		QualityScore: qualityScore,
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	})
	return s.save(db)
}

// RecordFeedback stores a user verdict keyed by code hash.
func (s *KnowledgeStore) RecordFeedback(codeHash string, works bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load()
	if err != nil {
		return err
	}

	db.Feedback = append(db.Feedback, &FeedbackRecord{
		CodeHash:  codeHash,
		Works:     works,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return s.save(db)
}

// Generations returns all stored generations, oldest first.
func (s *KnowledgeStore) Generations() ([]*GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.load()
	if err != nil {
		return nil, err
	}
	return db.Generations, nil
}

// Feedback returns all stored feedback records, oldest first.
func (s *KnowledgeStore) Feedback() ([]*FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.load()
	if err != nil {
		return nil, err
	}
	return db.Feedback, nil
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// minCommonKeywords is the overlap threshold below which a stored
// prompt is not considered similar.
const minCommonKeywords = 3

// FindSimilar performs a keyword-overlap search over stored prompts and
// returns matches sorted by descending score. A stored generation
// matches when its prompt shares at least minCommonKeywords words with
// the query.
func (s *KnowledgeStore) FindSimilar(prompt string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.load()
	if err != nil {
		return nil, err
	}

	query := keywords(prompt)
	if len(query) == 0 {
		return nil, nil
	}

	var matches []Match
	for _, rec := range db.Generations {
		common := 0
		for word := range keywords(rec.Prompt) {
			if _, ok := query[word]; ok {
				common++
			}
		}
		if common >= minCommonKeywords {
			matches = append(matches, Match{Record: rec, Score: common})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// ExportJSONL renders the stored generations as a prompt/completion
// dataset in JSONL form, one record per line.
func (s *KnowledgeStore) ExportJSONL() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.load()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, rec := range db.Generations {
		if rec.Code == "" {
			continue
		}
		line, err := json.Marshal(map[string]string{
			"prompt":     rec.Prompt,
			"completion": rec.Code,
		})
		if err != nil {
			return "", fmt.Errorf("marshal export record: %w", err)
		}
		lines = append(lines, string(line))
	}
	return strings.Join(lines, "\n"), nil
}

func keywords(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// load reads the knowledge file. A missing file yields an empty base.
func (s *KnowledgeStore) load() (*knowledgeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &knowledgeFile{}, nil
		}
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}

	var db knowledgeFile
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("unmarshal knowledge file: %w", err)
	}
	return &db, nil
}

// save writes the knowledge file atomically (temp file + rename).
func (s *KnowledgeStore) save(db *knowledgeFile) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal knowledge file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp knowledge file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp knowledge file: %w", err)
	}
	return nil
}
