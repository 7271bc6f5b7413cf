package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Service backs the supplemented GET /config/sanity endpoint: it exports
// a sanitized, versioned snapshot of the static configuration plus the
// live-mutable settings, cached briefly so repeated health-check style
// polling doesn't re-marshal on every call.
type Service interface {
	GetSanity(ctx context.Context, live LiveSettings) (*SanityResponse, error)
	GetConfigVersion() string
}

// SanityResponse is the body of GET /config/sanity.
type SanityResponse struct {
	Version      string                 `json:"version"`
	LoadedAt     time.Time              `json:"loadedAt"`
	Environment  string                 `json:"environment"`
	KillSwitch   bool                   `json:"killSwitch"`
	CIPublishers int                    `json:"ciPublisherCount"`
	Config       map[string]interface{} `json:"config"`
}

type defaultService struct {
	config    *Config
	loadedAt  time.Time
	sanitizer Sanitizer

	cacheMu     sync.RWMutex
	cached      *SanityResponse
	cacheKey    string
	cacheExpiry time.Time
}

// NewService wraps a loaded Config for sanity-endpoint export.
func NewService(cfg *Config, loadedAt time.Time) Service {
	return &defaultService{config: cfg, loadedAt: loadedAt, sanitizer: NewSanitizer()}
}

func (s *defaultService) GetSanity(ctx context.Context, live LiveSettings) (*SanityResponse, error) {
	cacheKey := fmt.Sprintf("%s-%t-%d", s.GetConfigVersion(), live.KillSwitch, len(live.CIPublishers))
	if cached := s.getCached(cacheKey); cached != nil {
		return cached, nil
	}

	sanitized := s.sanitizer.Sanitize(s.config)
	configJSON, err := json.Marshal(sanitized)
	if err != nil {
		return nil, fmt.Errorf("marshal sanitized config: %w", err)
	}
	var configMap map[string]interface{}
	if err := json.Unmarshal(configJSON, &configMap); err != nil {
		return nil, fmt.Errorf("config to map: %w", err)
	}

	resp := &SanityResponse{
		Version:      s.GetConfigVersion(),
		LoadedAt:     s.loadedAt,
		Environment:  s.config.App.Environment,
		KillSwitch:   live.KillSwitch,
		CIPublishers: len(live.CIPublishers),
		Config:       configMap,
	}

	s.setCached(cacheKey, resp)
	return resp, nil
}

// GetConfigVersion returns the SHA256 hash of the loaded config, used as
// an opaque change-detection token by clients polling /config/sanity.
func (s *defaultService) GetConfigVersion() string {
	configJSON, err := json.Marshal(s.config)
	if err != nil {
		return fmt.Sprintf("error-%d", s.loadedAt.Unix())
	}
	hash := sha256.Sum256(configJSON)
	return hex.EncodeToString(hash[:])
}

func (s *defaultService) getCached(cacheKey string) *SanityResponse {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.cached != nil && s.cacheKey == cacheKey && time.Now().Before(s.cacheExpiry) {
		return s.cached
	}
	return nil
}

func (s *defaultService) setCached(cacheKey string, resp *SanityResponse) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cached = resp
	s.cacheKey = cacheKey
	s.cacheExpiry = time.Now().Add(1 * time.Second)
}
