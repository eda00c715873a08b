// Package models defines the domain types shared across services, the
// consolidation pipeline, and the HTTP layer.
package models

import (
	"fmt"
	"strings"
	"time"
)

// BlobType identifies the kind of ingested artifact.
type BlobType string

// Supported blob types.
const (
	BlobTypeChat BlobType = "chat"
	BlobTypeDoc  BlobType = "doc"
)

// ParseBlobType validates a caller-supplied blob type string.
func ParseBlobType(s string) (BlobType, error) {
	switch BlobType(s) {
	case BlobTypeChat:
		return BlobTypeChat, nil
	case BlobTypeDoc:
		return BlobTypeDoc, nil
	default:
		return "", fmt.Errorf("unknown blob type %q", s)
	}
}

// MessageRole is the speaker of one chat message.
type MessageRole string

// Chat message roles.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is one turn inside a chat blob.
// Alias overrides the role label when rendering transcripts (e.g. a
// character name in roleplay). CreatedAt is a caller-supplied display
// timestamp, kept opaque.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Alias     string      `json:"alias,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
}

// Blob is one immutable ingestion record. Chat blobs carry Messages,
// doc blobs carry Content; the unused half is empty.
type Blob struct {
	ID        string         `json:"id"`
	Type      BlobType       `json:"blob_type"`
	Messages  []ChatMessage  `json:"messages,omitempty"`
	Content   string         `json:"content,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Text returns the token-countable text of the blob: chat message
// contents joined with newlines, or the doc content as-is.
func (b *Blob) Text() string {
	if b.Type == BlobTypeDoc {
		return b.Content
	}
	parts := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Validate checks structural invariants before persistence.
func (b *Blob) Validate() error {
	switch b.Type {
	case BlobTypeChat:
		if len(b.Messages) == 0 {
			return fmt.Errorf("chat blob has no messages")
		}
		for i, m := range b.Messages {
			if m.Role != RoleUser && m.Role != RoleAssistant {
				return fmt.Errorf("message %d: unknown role %q", i, m.Role)
			}
			if m.Content == "" {
				return fmt.Errorf("message %d: empty content", i)
			}
		}
	case BlobTypeDoc:
		if b.Content == "" {
			return fmt.Errorf("doc blob has no content")
		}
		if len(b.Messages) > 0 {
			return fmt.Errorf("doc blob must not carry messages")
		}
	default:
		return fmt.Errorf("unknown blob type %q", b.Type)
	}
	return nil
}
