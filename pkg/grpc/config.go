package grpc

import (
	"errors"
	"time"
)

// Config configures the health server.
type Config struct {
	Address        string // host:port, ":9090" listens on every interface
	Keepalive      *KeepaliveConfig
	MaxRecvMsgSize int // bytes

	EnableReflection bool
	EnableTracing    bool
}

// KeepaliveConfig maps onto keepalive.ServerParameters plus the client ping
// enforcement policy (MinTime).
type KeepaliveConfig struct {
	MaxIdle time.Duration
	Time    time.Duration
	Timeout time.Duration
	MinTime time.Duration
}

// DefaultConfig returns the settings used when only an address is known.
func DefaultConfig() *Config {
	return &Config{
		Address:        ":9090",
		MaxRecvMsgSize: 1 << 20,
		Keepalive: &KeepaliveConfig{
			MaxIdle: 5 * time.Minute,
			Time:    time.Minute,
			Timeout: 20 * time.Second,
			MinTime: 30 * time.Second,
		},
	}
}

// Validate rejects configs the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if c.MaxRecvMsgSize < 0 {
		errs = append(errs, errors.New("max recv message size is negative"))
	}
	if k := c.Keepalive; k != nil {
		if min(k.MaxIdle, k.Time, k.Timeout, k.MinTime) < 0 {
			errs = append(errs, errors.New("keepalive durations must not be negative"))
		}
		if k.Time > 0 && k.Timeout >= k.Time {
			errs = append(errs, errors.New("keepalive timeout must be shorter than the ping interval"))
		}
	}
	return errors.Join(errs...)
}
