package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution with {{.VAR}}",
			input: "api_key: {{.LLM_API_KEY}}",
			env:   map[string]string{"LLM_API_KEY": "secret123"},
			want:  "api_key: secret123",
		},
		{
			name:  "literal ${VAR} is NOT expanded",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "literal $ preserved in values",
			input: "password: p@ss$word",
			env:   map[string]string{},
			want:  "password: p@ss$word",
		},
		{
			name:  "multiple substitutions in one line",
			input: "base_url: {{.PROTOCOL}}://{{.HOST}}:{{.PORT}}/v1",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "llm.internal",
				"PORT":     "8443",
			},
			want: "base_url: https://llm.internal:8443/v1",
		},
		{
			name:  "missing variable expands to empty",
			input: "endpoint: {{.MISSING_VAR}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "variables in nested YAML structure",
			input: "llm:\n  base_url: {{.BASE_URL}}\n  model: {{.MODEL}}",
			env: map[string]string{
				"BASE_URL": "http://localhost:4000",
				"MODEL":    "gpt-4o-mini",
			},
			want: "llm:\n  base_url: http://localhost:4000\n  model: gpt-4o-mini",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "values containing = survive",
			input: "key: {{.WITH_EQUALS}}",
			env:   map[string]string{"WITH_EQUALS": "a=b=c"},
			want:  "key: a=b=c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(result))
		})
	}
}

// Malformed template syntax is passed through unchanged so the YAML parser
// can produce a clearer error (or treat it as a literal).
func TestExpandEnvMalformedTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "unclosed template",
			input: "api_key: {{.LLM_API_KEY",
		},
		{
			name:  "only opening braces",
			input: "api_key: {{",
		},
		{
			name:  "undefined function",
			input: "api_key: {{.LLM_API_KEY | upper}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_API_KEY", "should-not-appear")

			result := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.input, string(result))
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	result := ExpandEnv([]byte(""))
	assert.Equal(t, "", string(result))
}
