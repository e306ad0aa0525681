package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/agentgateway/internal/memory"
	"github.com/nextlevelbuilder/agentgateway/internal/toolregistry"
)

const defaultMemorySearchLimit = 5

// RegisterMemorySearch adds the "memory_search" tool, a thin adapter over
// the keyword-weighted memory store.
func RegisterMemorySearch(reg *toolregistry.Registry, store *memory.Store) {
	reg.Register("memory_search", "Search stored memories by keyword relevance", toolregistry.Schema{
		Properties: map[string]toolregistry.Property{
			"query": {Type: "string", Description: "Text to search memories for"},
			"limit": {Type: "number", Description: "Max results to return (default 5)"},
		},
		Required: []string{"query"},
	}, func(ctx context.Context, args map[string]any) (toolregistry.Result, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return toolregistry.Result{}, fmt.Errorf("query is required")
		}
		limit := defaultMemorySearchLimit
		if v, ok := args["limit"].(float64); ok && int(v) > 0 {
			limit = int(v)
		}

		matches := store.Retrieve(query, limit)

		type hit struct {
			Content    string   `json:"content"`
			Tags       []string `json:"tags,omitempty"`
			Score      float64  `json:"score"`
			SessionKey string   `json:"session_key,omitempty"`
		}
		hits := make([]hit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, hit{
				Content:    m.Record.Content,
				Tags:       m.Record.Tags,
				Score:      m.Score,
				SessionKey: m.Record.SessionKey,
			})
		}

		out, err := json.Marshal(map[string]any{"matches": hits, "count": len(hits)})
		if err != nil {
			return toolregistry.Result{}, fmt.Errorf("marshal matches: %w", err)
		}
		return toolregistry.NewResult(string(out)), nil
	})
}
