package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go
// templates with {{.VAR_NAME}} syntax. Plain $ is left untouched so
// prompts and regex-like values survive expansion.
//
// Examples:
//   - {{.LLM_API_KEY}} → value of LLM_API_KEY
//   - {{.REDIS_HOST}}:{{.REDIS_PORT}} → host:port with both expanded
//
// Missing variables expand to the empty string; validation catches
// required fields that end up empty. Malformed templates pass the
// original bytes through so the YAML parser can produce a clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("memobase").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split on the first = only; values may contain = themselves.
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
