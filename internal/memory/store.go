// Package memory is a keyword-weighted, append-only memory store. It is
// deliberately not vector-semantic: retrieval scores are substring matches
// over a tokenized query, nothing more.
package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const capacity = 1000

// Record is one stored memory.
type Record struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SessionKey string    `json:"session_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Tags       []string  `json:"tags,omitempty"`
	Importance *float64  `json:"importance,omitempty"`
}

// Store holds an in-memory mirror of memories.jsonl, capped at capacity
// with FIFO eviction once full.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// Open loads (or creates) the memory log under workspaceDir/.memory.
func Open(workspaceDir string) (*Store, error) {
	dir := filepath.Join(workspaceDir, ".memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}
	path := filepath.Join(dir, "memories.jsonl")

	s := &Store{path: path}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("memory: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		s.records = append(s.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("memory: scan log: %w", err)
	}
	if len(s.records) > capacity {
		s.records = s.records[len(s.records)-capacity:]
	}
	return s, nil
}

// Add appends a new memory, evicting the oldest record once capacity is
// exceeded. Eviction only trims the in-memory mirror and an on-disk
// compaction rewrite; the log itself is append-only in steady state.
func (s *Store) Add(content, sessionKey string, tags []string, importance *float64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:         strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Content:    content,
		SessionKey: sessionKey,
		CreatedAt:  time.Now().UTC(),
		Tags:       tags,
		Importance: importance,
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("memory: open log: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		f.Close()
		return Record{}, fmt.Errorf("memory: marshal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return Record{}, fmt.Errorf("memory: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Record{}, fmt.Errorf("memory: sync log: %w", err)
	}
	if err := f.Close(); err != nil {
		return Record{}, fmt.Errorf("memory: close log: %w", err)
	}

	s.records = append(s.records, rec)
	if len(s.records) > capacity {
		s.records = s.records[1:]
		if err := s.compact(); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// compact rewrites the log to match the current in-memory mirror, dropping
// evicted records. Called with mu already held.
func (s *Store) compact() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "memories-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("memory: create temp log: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range s.records {
		data, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("memory: marshal record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("memory: write record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("memory: flush temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("memory: sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("memory: close temp log: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("memory: rename log: %w", err)
	}
	return nil
}

// Count returns the number of memories currently retained.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"were": true, "that": true, "this": true, "with": true, "from": true,
	"have": true, "has": true, "had": true, "not": true, "but": true,
	"you": true, "your": true, "about": true, "what": true, "when": true,
}

func tokenize(s string) []string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Scored pairs a record with its retrieval score.
type Scored struct {
	Record Record
	Score  float64
}

// Retrieve scores every memory against query and returns the top-k by
// score, highest first, excluding non-positive scores.
func (s *Store) Retrieve(query string, k int) []Scored {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	records := make([]Record, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	var scored []Scored
	for _, rec := range records {
		score := scoreRecord(rec, tokens, strings.ToLower(query))
		if score > 0 {
			scored = append(scored, Scored{Record: rec, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func scoreRecord(rec Record, queryTokens []string, lowerQuery string) float64 {
	content := strings.ToLower(rec.Content)

	var score float64
	for _, tok := range queryTokens {
		if strings.Contains(content, tok) {
			score++
		}
	}
	for _, tag := range rec.Tags {
		if strings.Contains(lowerQuery, strings.ToLower(tag)) {
			score += 0.5
		}
	}
	if rec.Importance != nil {
		score *= 1 + *rec.Importance
	}
	return score
}
