package models

import (
	"fmt"
	"time"
)

// BufferStatus is the processing state of one buffer entry.
// Legal transitions: idle → processing → {done, failed}. Failed entries may
// return to idle for operator retry; done is terminal.
type BufferStatus string

// Buffer entry statuses.
const (
	BufferStatusIdle       BufferStatus = "idle"
	BufferStatusProcessing BufferStatus = "processing"
	BufferStatusDone       BufferStatus = "done"
	BufferStatusFailed     BufferStatus = "failed"
)

// ParseBufferStatus validates a caller-supplied status string.
func ParseBufferStatus(s string) (BufferStatus, error) {
	switch BufferStatus(s) {
	case BufferStatusIdle, BufferStatusProcessing, BufferStatusDone, BufferStatusFailed:
		return BufferStatus(s), nil
	default:
		return "", fmt.Errorf("unknown buffer status %q", s)
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s BufferStatus) CanTransition(next BufferStatus) bool {
	switch s {
	case BufferStatusIdle:
		return next == BufferStatusProcessing || next == BufferStatusFailed
	case BufferStatusProcessing:
		return next == BufferStatusDone || next == BufferStatusFailed
	case BufferStatusFailed:
		return next == BufferStatusIdle || next == BufferStatusProcessing
	default:
		return false
	}
}

// BufferEntry links one blob to one pending processing slot.
type BufferEntry struct {
	ID        string       `json:"id"`
	BlobID    string       `json:"blob_id"`
	BlobType  BlobType     `json:"blob_type"`
	TokenSize int          `json:"token_size"`
	Status    BufferStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// BufferedBlob is a buffer entry joined with its blob payload, the unit the
// consolidation pipeline consumes.
type BufferedBlob struct {
	EntryID   string
	TokenSize int
	Blob      Blob
}
