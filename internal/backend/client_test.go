package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

func newChatServer(t *testing.T, modelSeen *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*modelSeen = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hi there"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
}

func TestChatSendsDefaultModelAndParsesTextResponse(t *testing.T) {
	t.Parallel()
	var modelSeen string
	srv := newChatServer(t, &modelSeen)
	defer srv.Close()

	client := NewOpenAIClient("key", srv.URL, "model-a")
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []message.Message{{Role: message.RoleUser, Text: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "model-a", modelSeen)
	require.Equal(t, StopEndTurn, resp.StopReason)
	require.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestSetCredentialsTakesEffectOnNextCall(t *testing.T) {
	t.Parallel()
	var modelSeen string
	srv := newChatServer(t, &modelSeen)
	defer srv.Close()

	client := NewOpenAIClient("key", srv.URL, "model-a")
	client.SetCredentials("new-key", srv.URL, "model-b")

	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []message.Message{{Role: message.RoleUser, Text: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "model-b", modelSeen)
	require.Equal(t, "model-b", client.DefaultModel())
}
