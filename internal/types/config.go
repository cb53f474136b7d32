package types

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default simulated device timings in microseconds and GC cadence.
const (
	DefaultTReadUS  = 25
	DefaultTWriteUS = 500
	DefaultTEraseUS = 1500
	DefaultGCTimeMS = 1000

	// GCLimitInverse: GC runs while fewer than 1/GCLimitInverse of a
	// pool's blocks are free.
	GCLimitInverse = 10

	// MinBusyWait is the smallest remaining budget worth busy-delaying for.
	MinBusyWait = 50 * time.Microsecond

	// APDisassociateTime is how long a pack append point keeps its inode
	// association after its last use.
	APDisassociateTime = 5 * time.Second
)

// Config is the construction-time record for one FTL target.
type Config struct {
	TargetType string `mapstructure:"target_type"` // default|swap|latency|pack

	NrPools       int `mapstructure:"nr_pools"`
	NrBlksPerPool int `mapstructure:"nr_blks_per_pool"`
	NrPagesPerBlk int `mapstructure:"nr_pages_per_blk"`
	NrApsPerPool  int `mapstructure:"nr_aps_per_pool"`

	MiscFlags uint32 `mapstructure:"misc_flags"`

	SerializePoolAccess bool `mapstructure:"serialize_pool_access"`
	NoWaits             bool `mapstructure:"no_waits"`

	GCTimeMS int `mapstructure:"gc_time_ms"`

	TReadUS  int `mapstructure:"t_read_us"`
	TWriteUS int `mapstructure:"t_write_us"`
	TEraseUS int `mapstructure:"t_erase_us"`
}

// LoadConfig loads the FTL configuration using Viper.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("ftl-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.ftl")
	viper.AddConfigPath("/etc/ftl")

	// Set defaults
	viper.SetDefault("target_type", "default")
	viper.SetDefault("nr_pools", 8)
	viper.SetDefault("nr_blks_per_pool", 32)
	viper.SetDefault("nr_pages_per_blk", 64)
	viper.SetDefault("nr_aps_per_pool", 1)
	viper.SetDefault("serialize_pool_access", true)
	viper.SetDefault("no_waits", false)
	viper.SetDefault("gc_time_ms", DefaultGCTimeMS)
	viper.SetDefault("t_read_us", DefaultTReadUS)
	viper.SetDefault("t_write_us", DefaultTWriteUS)
	viper.SetDefault("t_erase_us", DefaultTEraseUS)

	// Allow environment variables
	viper.SetEnvPrefix("FTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// Geometry derives the device geometry from the config.
func (c *Config) Geometry() Geometry {
	return Geometry{
		NrPools:               c.NrPools,
		NrBlksPerPool:         c.NrBlksPerPool,
		NrPagesPerBlk:         c.NrPagesPerBlk,
		NrApsPerPool:          c.NrApsPerPool,
		HostPagesPerFlashPage: NrHostPagesInFlashPage,
	}
}

// Flags folds the target type and misc options into a flag word.
func (c *Config) Flags() (TargetFlags, error) {
	var f TargetFlags
	switch c.TargetType {
	case "", "default":
		f = EngineNone
	case "swap":
		f = EngineSwap | EngineIoctl | FastSlowPages
	case "latency":
		f = EngineLatency | EngineIoctl
	case "pack":
		f = EnginePack | EngineIoctl
	default:
		return 0, fmt.Errorf("%w: unknown target type %q", ErrBadAddress, c.TargetType)
	}
	f |= TargetFlags(c.MiscFlags)
	if c.SerializePoolAccess {
		f |= PoolSerialize
	}
	if c.NoWaits {
		f |= NoWaits
	}
	return f, nil
}

// TRead returns the simulated read service time.
func (c *Config) TRead() time.Duration { return time.Duration(c.TReadUS) * time.Microsecond }

// TWrite returns the simulated write service time.
func (c *Config) TWrite() time.Duration { return time.Duration(c.TWriteUS) * time.Microsecond }

// TErase returns the simulated erase service time.
func (c *Config) TErase() time.Duration { return time.Duration(c.TEraseUS) * time.Microsecond }

// GCTime returns the GC timer period.
func (c *Config) GCTime() time.Duration { return time.Duration(c.GCTimeMS) * time.Millisecond }

// Validate checks the config and its derived geometry.
func (c *Config) Validate() error {
	if _, err := c.Flags(); err != nil {
		return err
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if c.GCTimeMS <= 0 {
		return fmt.Errorf("gc_time_ms must be positive, got %d", c.GCTimeMS)
	}
	return nil
}
