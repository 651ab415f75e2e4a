package cluster

import (
	"time"
)

// Config defines membership, failure detection and election settings
type Config struct {
	// Server identification
	ServerID      string  // Unique identifier for this server
	AdvertiseAddr Address // Address peers and clients use to reach this server

	// JoinAddr is a seed to register through. Empty bootstraps a new cluster.
	JoinAddr string

	// Failure detection
	HeartbeatInterval time.Duration // Interval between probe cycles (default: 2s)
	ProbeTimeout      time.Duration // Deadline for a single heartbeat (default: 1s)
	MissThreshold     int           // Consecutive misses before a peer is unreachable (default: 3)

	// Registration
	MaxJoinRedirects int           // REGISTRATION_REFUSED hops followed while joining (default: 3)
	JoinTimeout      time.Duration // Deadline for the whole join handshake (default: 10s)

	// PurgeAfter removes members unreachable for this long. Zero keeps them forever.
	PurgeAfter time.Duration
}

// DefaultConfig returns the default failure detection settings
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 2 * time.Second,
		ProbeTimeout:      1 * time.Second,
		MissThreshold:     3,
		MaxJoinRedirects:  3,
		JoinTimeout:       10 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MissThreshold == 0 {
		c.MissThreshold = def.MissThreshold
	}
	if c.MaxJoinRedirects == 0 {
		c.MaxJoinRedirects = def.MaxJoinRedirects
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = def.JoinTimeout
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.ServerID == "" {
		return ErrInvalidServerID
	}
	if c.AdvertiseAddr.IP == "" || c.AdvertiseAddr.Port <= 0 || c.AdvertiseAddr.Port > 65535 {
		return ErrInvalidAdvertiseAddr
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatPeriod
	}
	if c.ProbeTimeout >= c.HeartbeatInterval {
		return ErrProbeTimeoutTooLarge
	}
	if c.MissThreshold < 1 {
		return ErrInvalidMissThreshold
	}
	return nil
}
