// Package router resolves inbound (channel, peer) pairs to an agent and a
// session key, via a set of persistent priority bindings.
package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Binding maps one (channel, peer) pair — or a wildcard peer — to an agent.
type Binding struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   string    `json:"channel"`
	Peer      string    `json:"peer"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolution is the outcome of resolving a (channel, peer) pair.
type Resolution struct {
	AgentID    string
	SessionKey string
	Binding    *Binding
}

// Router holds the full binding set in memory, persisted as a single JSON
// array rewritten after every mutation.
type Router struct {
	mu           sync.Mutex
	path         string
	defaultAgent string
	bindings     []Binding
}

// Open loads (or creates) the binding file under workspaceDir/.routing.
func Open(workspaceDir, defaultAgent string) (*Router, error) {
	dir := filepath.Join(workspaceDir, ".routing")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("router: create dir: %w", err)
	}
	r := &Router{
		path:         filepath.Join(dir, "bindings.json"),
		defaultAgent: defaultAgent,
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("router: read bindings: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.bindings); err != nil {
			return nil, fmt.Errorf("router: parse bindings: %w", err)
		}
	}
	return r, nil
}

// CreateBinding adds a binding, or updates the priority of an identical
// (agent, channel, peer) binding in place rather than duplicating it.
func (r *Router) CreateBinding(agentID, channel, peer string, priority int) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.bindings {
		if b.AgentID == agentID && b.Channel == channel && b.Peer == peer {
			r.bindings[i].Priority = priority
			if err := r.rewrite(); err != nil {
				return Binding{}, err
			}
			return r.bindings[i], nil
		}
	}

	b := Binding{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		AgentID:   agentID,
		Channel:   channel,
		Peer:      peer,
		Priority:  priority,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	r.bindings = append(r.bindings, b)
	if err := r.rewrite(); err != nil {
		return Binding{}, err
	}
	return b, nil
}

// RemoveBinding deletes a binding by id.
func (r *Router) RemoveBinding(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.bindings {
		if b.ID == id {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			return r.rewrite()
		}
	}
	return fmt.Errorf("router: binding %q not found", id)
}

// SetEnabled toggles a binding's enabled flag.
func (r *Router) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.bindings {
		if b.ID == id {
			r.bindings[i].Enabled = enabled
			return r.rewrite()
		}
	}
	return fmt.Errorf("router: binding %q not found", id)
}

// Resolve runs the three-phase lookup: exact match, then wildcard peer,
// then the configured default agent. Within a phase, the lowest-priority
// enabled binding wins; ties break on insertion order (bindings are scanned
// in the order they were originally registered).
func (r *Router) Resolve(channel, peer string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentID := r.defaultAgent
	var chosen *Binding

	if b := bestMatch(r.bindings, channel, peer); b != nil {
		agentID = b.AgentID
		chosen = b
	} else if b := bestMatch(r.bindings, channel, "*"); b != nil {
		agentID = b.AgentID
		chosen = b
	}

	return Resolution{
		AgentID:    agentID,
		SessionKey: fmt.Sprintf("%s:%s:%s", agentID, channel, peer),
		Binding:    chosen,
	}
}

// bestMatch returns the lowest-priority enabled binding matching
// (channel, peer) exactly, preserving insertion order on ties.
func bestMatch(bindings []Binding, channel, peer string) *Binding {
	var best *Binding
	for i := range bindings {
		b := &bindings[i]
		if !b.Enabled || b.Channel != channel || b.Peer != peer {
			continue
		}
		if best == nil || b.Priority < best.Priority {
			best = b
		}
	}
	return best
}

// List returns every binding.
func (r *Router) List() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// ListForAgent returns the bindings belonging to one agent.
func (r *Router) ListForAgent(agentID string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Binding
	for _, b := range r.bindings {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	return out
}

// rewrite performs a full atomic rewrite of the binding file. Called with
// mu already held.
func (r *Router) rewrite() error {
	data, err := json.MarshalIndent(r.bindings, "", "  ")
	if err != nil {
		return fmt.Errorf("router: marshal bindings: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, "bindings-*.json.tmp")
	if err != nil {
		return fmt.Errorf("router: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("router: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("router: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("router: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("router: rename bindings file: %w", err)
	}
	return nil
}
