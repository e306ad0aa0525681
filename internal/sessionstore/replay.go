package sessionstore

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

// transcriptLine is the tagged-union shape of one line in a transcript
// file. Every field a given type doesn't use is simply absent.
type transcriptLine struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	ToolUseID string          `json:"tool_use_id"`
	Input     map[string]any  `json:"input"`
	Output    string          `json:"output"`
}

// replayTranscript reconstructs a session's in-memory history by scanning
// its transcript in order and applying the pending-tool_use-buffer rules:
// a tool_use entry accumulates into the buffer; any other entry first
// flushes the buffer as one assistant message, then is processed itself.
// Unparseable lines are skipped silently.
func replayTranscript(path string) ([]message.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var history []message.Message
	var pending []message.Block

	flush := func() {
		if len(pending) > 0 {
			history = append(history, message.AssistantBlocks(pending))
			pending = nil
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry transcriptLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		switch entry.Type {
		case "session":
			// header, skipped

		case "tool_use":
			pending = append(pending, message.ToolUseBlock(entry.ToolUseID, entry.Name, entry.Input))

		case "user":
			flush()
			if len(entry.Content) == 0 {
				continue
			}
			switch entry.Content[0] {
			case '"':
				var text string
				if err := json.Unmarshal(entry.Content, &text); err != nil {
					continue
				}
				history = append(history, message.UserText(text))
			case '[':
				var blocks []message.Block
				if err := json.Unmarshal(entry.Content, &blocks); err != nil {
					continue
				}
				history = append(history, message.UserBlocks(blocks))
			}

		case "assistant":
			flush()
			if len(entry.Content) == 0 {
				continue
			}
			var text string
			if err := json.Unmarshal(entry.Content, &text); err != nil {
				continue
			}
			history = append(history, message.AssistantText(text))

		case "tool_result":
			flush()
			history = append(history, message.UserBlocks([]message.Block{
				message.ToolResultBlock(entry.ToolUseID, entry.Output),
			}))

		default:
			// unrecognized type, skip
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	flush()
	return history, nil
}
