package config

import "time"

// DomainConfig holds the configurable business rules of the sync core
type DomainConfig struct {
	// Autosave timing
	DefaultCommitDelay time.Duration
	MinCommitDelay     time.Duration
	RetryDelay         time.Duration
	KeepaliveTimeout   time.Duration

	// Message history constraints
	DefaultHistoryLength int
	MinHistoryLength     int
	MaxHistoryLength     int

	// Structure constraints
	MaxNodesPerProject int
	MaxEdgesPerProject int

	// Validation settings
	AllowSelfLinks      bool
	AllowDuplicateEdges bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		// Autosave timing
		DefaultCommitDelay: 1700 * time.Millisecond,
		MinCommitDelay:     250 * time.Millisecond,
		RetryDelay:         1700 * time.Millisecond,
		KeepaliveTimeout:   2 * time.Second,

		// Message history constraints
		DefaultHistoryLength: 50,
		MinHistoryLength:     1,
		MaxHistoryLength:     200,

		// Structure constraints
		MaxNodesPerProject: 10000,
		MaxEdgesPerProject: 50000,

		// Validation settings
		AllowSelfLinks:      false,
		AllowDuplicateEdges: false,
	}
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	cfg := DefaultDomainConfig()

	// Faster feedback while developing
	cfg.DefaultCommitDelay = 400 * time.Millisecond
	cfg.RetryDelay = 400 * time.Millisecond

	// More permissive graph rules
	cfg.AllowSelfLinks = true
	cfg.AllowDuplicateEdges = true

	return cfg
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// ClampHistoryLength bounds a requested history length to the allowed range
func (c *DomainConfig) ClampHistoryLength(n int) int {
	if n < c.MinHistoryLength {
		return c.MinHistoryLength
	}
	if n > c.MaxHistoryLength {
		return c.MaxHistoryLength
	}
	return n
}

// ClampCommitDelay enforces the minimum debounce floor
func (c *DomainConfig) ClampCommitDelay(d time.Duration) time.Duration {
	if d < c.MinCommitDelay {
		return c.MinCommitDelay
	}
	return d
}
