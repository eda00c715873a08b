package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429: rate limit exceeded"), true},
		{"server error", errors.New("API returned unexpected status code: 503"), true},
		{"overloaded", errors.New("the model is overloaded, try again"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"bad request", errors.New("400: invalid request body"), false},
		{"auth failure", errors.New("401: incorrect API key provided"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped cancel", fmt.Errorf("call failed: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransient(tt.err))
		})
	}
}
