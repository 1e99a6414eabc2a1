package pool

import (
	"fmt"
	"time"

	"github.com/ha1tch/mssqltds/tds"
)

// Config is the pool's configuration surface (spec.md §4.7). Dial builds
// a tds.Session from a caller-supplied connector function rather than a
// connection string — string parsing is an external collaborator.
type Config struct {
	// Min is the number of sessions the pool tries to keep ready.
	Min int
	// Max bounds the total number of sessions (Idle+InUse+Checking+Resetting).
	Max int

	ConnectTimeout       time.Duration
	IdleTimeout          time.Duration
	MaxLifetime          time.Duration
	HealthCheckInterval  time.Duration
	AcquisitionTimeout   time.Duration
	TestOnCheckout       bool
	TestOnCheckin        bool
	ResetOnReturn        bool
	SpResetConnection    bool
	MaintenanceInterval  time.Duration
}

// DefaultConfig returns sane defaults for everything but Min/Max/Connect,
// matching the values spec.md §4.7 implies (health checks every minute,
// maintenance sweeps every 30s, the cadence of the teacher's idle reaper).
func DefaultConfig(min, max int) Config {
	return Config{
		Min:                 min,
		Max:                 max,
		ConnectTimeout:      15 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaxLifetime:         30 * time.Minute,
		HealthCheckInterval: time.Minute,
		AcquisitionTimeout:  10 * time.Second,
		TestOnCheckout:      true,
		TestOnCheckin:       false,
		ResetOnReturn:       true,
		SpResetConnection:   true,
		MaintenanceInterval: 30 * time.Second,
	}
}

// Validate enforces spec.md §4.7's 0 < min ≤ max invariant.
func (c Config) Validate() error {
	if c.Min <= 0 {
		return fmt.Errorf("pool: min must be > 0, got %d", c.Min)
	}
	if c.Max < c.Min {
		return fmt.Errorf("pool: max (%d) must be >= min (%d)", c.Max, c.Min)
	}
	return nil
}

// Connector dials one new tds.Session. Supplied by the caller so the
// pool never owns connection-string parsing or credential acquisition.
type Connector func() (*tds.Session, error)
