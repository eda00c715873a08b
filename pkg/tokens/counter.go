// Package tokens wraps tiktoken for the token accounting the buffer,
// pipeline, and context composer share.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding is used when no model-specific encoding is found.
const defaultEncoding = "cl100k_base"

// Counter counts tokens with a fixed tiktoken encoding. Safe for
// concurrent use.
type Counter struct {
	encodingName string
	tke          *tiktoken.Tiktoken
	mu           sync.RWMutex
}

// NewCounter creates a counter for the given model or encoding name.
// Model names are tried first, then encoding names, then the default
// encoding.
func NewCounter(modelOrEncoding string) (*Counter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}

	tke, err := tiktoken.EncodingForModel(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.GetEncoding(modelOrEncoding)
		if err != nil {
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("failed to get default encoding %q: %w", defaultEncoding, err)
			}
			modelOrEncoding = defaultEncoding
		}
	}

	return &Counter{
		encodingName: modelOrEncoding,
		tke:          tke,
	}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tke == nil {
		return 0
	}
	return len(c.tke.Encode(text, nil, nil))
}

// Encoding returns the name of the encoding in use.
func (c *Counter) Encoding() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encodingName
}
