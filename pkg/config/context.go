package config

// ContextDefaults holds the defaults for context assembly. Individual
// requests may override any of them through query parameters.
type ContextDefaults struct {
	// MaxTokens is the default budget for one assembled context.
	MaxTokens int `yaml:"max_tokens"`

	// ProfileEventRatio splits the budget between profile and event
	// sections. 0.8 gives profiles 80% of the budget.
	ProfileEventRatio float64 `yaml:"profile_event_ratio"`

	// MaxEvents caps how many recent events a context may carry.
	MaxEvents int `yaml:"max_events"`
}

// DefaultContextDefaults returns the built-in context assembly settings.
func DefaultContextDefaults() *ContextDefaults {
	return &ContextDefaults{
		MaxTokens:         1000,
		ProfileEventRatio: 0.8,
		MaxEvents:         40,
	}
}
