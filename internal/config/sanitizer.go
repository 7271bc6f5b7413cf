package config

import "encoding/json"

// Sanitizer redacts secret-bearing fields before a Config is exposed
// through GET /config/sanity.
type Sanitizer interface {
	Sanitize(cfg *Config) *Config
}

type defaultSanitizer struct {
	redactionValue string
}

// NewSanitizer creates a Sanitizer using the conventional redaction value.
func NewSanitizer() Sanitizer {
	return &defaultSanitizer{redactionValue: "***REDACTED***"}
}

func (s *defaultSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.Database.Password = s.redactionValue
	sanitized.Redis.Password = s.redactionValue
	if sanitized.Database.URL != "" {
		sanitized.Database.URL = s.redactionValue
	}
	if sanitized.Engine.HeaderValue != "" {
		sanitized.Engine.HeaderValue = s.redactionValue
	}

	return sanitized
}

func (s *defaultSanitizer) deepCopy(cfg *Config) *Config {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return cfg
	}
	return &configCopy
}
