// Package channel defines the inbound/outbound contract every transport
// (file, Telegram, Discord...) must satisfy, plus the shared chunking
// algorithm used to split outbound text across a channel's length limit.
package channel

import (
	"context"
	"time"

	"github.com/mattn/go-runewidth"
)

// Inbound is one message received from a channel. Receive is non-blocking:
// it returns (Inbound{}, false) when nothing is pending.
type Inbound struct {
	Channel   string
	Sender    string
	Text      string
	MediaURLs []string
	ThreadID  string
	Timestamp time.Time
}

// Channel is the contract every transport implementation must satisfy.
type Channel interface {
	ID() string
	MaxTextLength() int
	Receive(ctx context.Context) (Inbound, bool, error)
	Send(ctx context.Context, recipient, text string, threadID string) error
	Chunk(text string) []string
}

// Chunk splits text at paragraph boundaries, greedily packing as many
// paragraphs as fit under maxLen before starting a new chunk. A single
// paragraph longer than maxLen is hard-split at the limit. Width is
// measured in terminal display cells (runewidth), not byte or rune count,
// so wide characters don't silently overflow a channel's real limit.
func Chunk(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = 1
	}

	paragraphs := splitParagraphs(text)
	var chunks []string
	var current string

	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, p := range paragraphs {
		for _, piece := range hardSplit(p, maxLen) {
			candidate := piece
			if current != "" {
				candidate = current + "\n" + piece
			}
			if runewidth.StringWidth(candidate) <= maxLen {
				current = candidate
				continue
			}
			flush()
			current = piece
		}
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			out = append(out, text[start:i])
			start = i + 1
		}
	}
	out = append(out, text[start:])
	return out
}

// hardSplit breaks a single paragraph into pieces no wider than maxLen,
// cutting on rune boundaries.
func hardSplit(paragraph string, maxLen int) []string {
	if runewidth.StringWidth(paragraph) <= maxLen {
		return []string{paragraph}
	}

	var pieces []string
	var cur []rune
	width := 0
	for _, r := range paragraph {
		w := runewidth.RuneWidth(r)
		if width+w > maxLen && len(cur) > 0 {
			pieces = append(pieces, string(cur))
			cur = nil
			width = 0
		}
		cur = append(cur, r)
		width += w
	}
	if len(cur) > 0 {
		pieces = append(pieces, string(cur))
	}
	return pieces
}
