// Package sessionstore holds the append-only per-session transcripts and
// the index that tracks their metadata. A session's history is never kept
// fully in memory between turns — it is reconstructed from its transcript
// on every load.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

const timeLayout = time.RFC3339

// Metadata describes one session's place in the index.
type Metadata struct {
	SessionID    string    `json:"session_id"`
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Filename     string    `json:"filename"`
}

// Store manages the session index and transcript directory rooted at a
// workspace's .sessions/ subdirectory.
type Store struct {
	mu             sync.Mutex
	indexPath      string
	transcriptsDir string
	index          map[string]Metadata
}

// Open loads (or creates) the session index under workspaceDir/.sessions.
func Open(workspaceDir string) (*Store, error) {
	base := filepath.Join(workspaceDir, ".sessions")
	transcriptsDir := filepath.Join(base, "transcripts")
	if err := os.MkdirAll(transcriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: create transcripts dir: %w", err)
	}

	s := &Store{
		indexPath:      filepath.Join(base, "sessions.json"),
		transcriptsDir: transcriptsDir,
		index:          make(map[string]Metadata),
	}

	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("sessionstore: read index: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.index); err != nil {
			return nil, fmt.Errorf("sessionstore: parse index: %w", err)
		}
	}
	return s, nil
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func (s *Store) transcriptPath(meta Metadata) string {
	return filepath.Join(s.transcriptsDir, meta.Filename)
}

// Exists reports whether key has an index entry.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// List returns every session's metadata, sorted by key for stable output.
func (s *Store) List() []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Metadata, 0, len(s.index))
	for _, m := range s.index {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Create makes a new session for key if one doesn't already exist, writing
// the transcript's session header line. Returns the (possibly pre-existing)
// metadata.
func (s *Store) Create(key string) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.index[key]; ok {
		return meta, nil
	}

	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	now := time.Now().UTC()
	meta := Metadata{
		SessionID:    sessionID,
		Key:          key,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: 0,
		Filename:     fmt.Sprintf("%s_%s.jsonl", sanitizeKey(key), sessionID),
	}

	header := map[string]any{
		"type":    "session",
		"ts":      now.Format(timeLayout),
		"id":      sessionID,
		"key":     key,
		"created": now.Format(timeLayout),
	}
	if err := s.appendLine(meta, header); err != nil {
		return Metadata{}, err
	}

	s.index[key] = meta
	if err := s.rewriteIndex(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Load returns a session's metadata and its reconstructed history, creating
// the session first if it does not yet exist.
func (s *Store) Load(key string) (Metadata, []message.Message, error) {
	meta, err := s.Create(key)
	if err != nil {
		return Metadata{}, nil, err
	}

	s.mu.Lock()
	path := s.transcriptPath(meta)
	s.mu.Unlock()

	history, err := replayTranscript(path)
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, history, nil
}

// SaveTurn appends a completed turn to key's transcript: the user's text,
// then one entry per assistant content block, then updates the index.
// Called only after a turn completes successfully — nothing is persisted
// for a turn that errors out mid-loop.
func (s *Store) SaveTurn(key, userText string, assistantBlocks []message.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok {
		return fmt.Errorf("sessionstore: save_turn: unknown session %q", key)
	}

	now := time.Now().UTC()
	lines := []map[string]any{
		{"type": "user", "ts": now.Format(timeLayout), "content": userText},
	}
	for _, b := range assistantBlocks {
		switch b.Type {
		case message.BlockText:
			lines = append(lines, map[string]any{"type": "assistant", "ts": now.Format(timeLayout), "content": b.Text})
		case message.BlockToolUse:
			lines = append(lines, map[string]any{
				"type": "tool_use", "ts": now.Format(timeLayout),
				"name": b.Name, "tool_use_id": b.ToolUseID, "input": b.Input,
			})
		}
	}

	if err := s.appendLines(meta, lines); err != nil {
		return err
	}

	meta.UpdatedAt = now
	meta.MessageCount++
	s.index[key] = meta
	return s.rewriteIndex()
}

// SaveToolResult appends one tool_result entry at the moment a tool call
// finishes executing, independent of whether the turn as a whole succeeds.
func (s *Store) SaveToolResult(key, toolUseID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok {
		return fmt.Errorf("sessionstore: save_tool_result: unknown session %q", key)
	}

	entry := map[string]any{
		"type": "tool_result", "ts": time.Now().UTC().Format(timeLayout),
		"tool_use_id": toolUseID, "output": output,
	}
	return s.appendLine(meta, entry)
}

// Delete removes a session's transcript and index entry.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.index[key]
	if !ok {
		return nil
	}
	if err := os.Remove(s.transcriptPath(meta)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessionstore: delete transcript: %w", err)
	}
	delete(s.index, key)
	return s.rewriteIndex()
}

func (s *Store) appendLine(meta Metadata, v any) error {
	return s.appendLines(meta, []map[string]any{v.(map[string]any)})
}

func (s *Store) appendLines(meta Metadata, lines []map[string]any) error {
	f, err := os.OpenFile(s.transcriptPath(meta), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessionstore: open transcript: %w", err)
	}
	defer f.Close()

	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("sessionstore: marshal entry: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("sessionstore: write entry: %w", err)
		}
	}
	return f.Sync()
}

// rewriteIndex performs a full atomic rewrite of the index file: write to a
// temp file in the same directory, then rename over the original.
func (s *Store) rewriteIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: marshal index: %w", err)
	}

	dir := filepath.Dir(s.indexPath)
	tmp, err := os.CreateTemp(dir, "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("sessionstore: create temp index: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: rename index: %w", err)
	}
	return nil
}
