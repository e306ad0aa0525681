package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/nextlevelbuilder/agentgateway/internal/sessionstore"

	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

const historyMaxCharsPerMessage = 4000

// RegisterSessionsHistory adds the "sessions_history" tool, letting the
// model inspect prior turns of the session it is already running in, or of
// any other session: the requested key is not checked against the calling
// agent's own sessions.
func RegisterSessionsHistory(reg *toolregistry.Registry, store *sessionstore.Store) {
	reg.Register("sessions_history", "Fetch message history for a session", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"session_key": {Type: "string", Description: "Session key to fetch history from"},
			"limit":       {Type: "number", Description: "Max messages to return (default 20)"},
		},
		Required: []string{"session_key"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		sessionKey, _ := args["session_key"].(string)
		if sessionKey == "" {
			return toolregistry.Result{}, fmt.Errorf("session_key is required")
		}
		limit := 20
		if v, ok := args["limit"].(float64); ok && int(v) > 0 {
			limit = int(v)
		}
		if !store.Exists(sessionKey) {
			return toolregistry.NewResult(fmt.Sprintf(`{"session_key":%q,"messages":[],"count":0}`, sessionKey)), nil
		}

		_, history, err := store.Load(sessionKey)
		if err != nil {
			return toolregistry.Result{}, fmt.Errorf("load session: %w", err)
		}

		type entry struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		entries := make([]entry, 0, len(history))
		for _, m := range history {
			content := m.ConcatText()
			if content == "" {
				continue
			}
			if utf8.RuneCountInString(content) > historyMaxCharsPerMessage {
				runes := []rune(content)
				content = string(runes[:historyMaxCharsPerMessage]) + "... [truncated]"
			}
			entries = append(entries, entry{Role: string(m.Role), Content: content})
		}
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		out, err := json.Marshal(map[string]any{
			"session_key": sessionKey,
			"messages":    entries,
			"count":       len(entries),
		})
		if err != nil {
			return toolregistry.Result{}, fmt.Errorf("marshal history: %w", err)
		}
		return toolregistry.NewResult(string(out)), nil
	})
}
