package config

// BuiltinTopics returns the default profile taxonomy used when neither the
// service configuration nor the project overrides one.
func BuiltinTopics() []TopicConfig {
	return []TopicConfig{
		{
			Topic: "basic_info",
			SubTopics: []SubTopicConfig{
				{Name: "name"},
				{Name: "age"},
				{Name: "gender"},
				{Name: "birth_date"},
				{Name: "nationality"},
				{Name: "ethnicity"},
				{Name: "language_spoken"},
			},
		},
		{
			Topic: "contact_info",
			SubTopics: []SubTopicConfig{
				{Name: "email"},
				{Name: "phone"},
				{Name: "city"},
				{Name: "country"},
			},
		},
		{
			Topic: "education",
			SubTopics: []SubTopicConfig{
				{Name: "school"},
				{Name: "degree"},
				{Name: "major"},
			},
		},
		{
			Topic: "demographics",
			SubTopics: []SubTopicConfig{
				{Name: "marital_status"},
				{Name: "number_of_children"},
				{Name: "household_income"},
			},
		},
		{
			Topic: "work",
			SubTopics: []SubTopicConfig{
				{Name: "company"},
				{Name: "title"},
				{Name: "working_industry"},
				{Name: "previous_projects"},
				{Name: "work_skills"},
			},
		},
		{
			Topic: "interest",
			SubTopics: []SubTopicConfig{
				{Name: "books"},
				{Name: "movies"},
				{Name: "music"},
				{Name: "foods"},
				{Name: "sports"},
				{Name: "travel"},
			},
		},
		{
			Topic: "psychological",
			SubTopics: []SubTopicConfig{
				{Name: "personality"},
				{Name: "values"},
				{Name: "beliefs"},
				{Name: "motivations"},
				{Name: "goals"},
				{Name: "mood"},
			},
		},
		{
			Topic: "life_event",
			SubTopics: []SubTopicConfig{
				{Name: "marriage"},
				{Name: "relocation"},
				{Name: "retirement"},
			},
		},
	}
}
