package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		TargetType:    "default",
		NrPools:       2,
		NrBlksPerPool: 4,
		NrPagesPerBlk: 16,
		NrApsPerPool:  1,
		GCTimeMS:      DefaultGCTimeMS,
		TReadUS:       DefaultTReadUS,
		TWriteUS:      DefaultTWriteUS,
		TEraseUS:      DefaultTEraseUS,
	}
}

func TestConfigFlags(t *testing.T) {
	cases := []struct {
		target string
		want   TargetFlags
	}{
		{"", EngineNone},
		{"default", EngineNone},
		{"swap", EngineSwap | EngineIoctl | FastSlowPages},
		{"latency", EngineLatency | EngineIoctl},
		{"pack", EnginePack | EngineIoctl},
	}
	for _, tc := range cases {
		cfg := testConfig()
		cfg.TargetType = tc.target
		f, err := cfg.Flags()
		require.NoError(t, err, "target %q", tc.target)
		assert.Equal(t, tc.want, f, "target %q", tc.target)
	}
}

func TestConfigFlagsUnknownTarget(t *testing.T) {
	cfg := testConfig()
	cfg.TargetType = "turbo"
	_, err := cfg.Flags()
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestConfigFlagsMisc(t *testing.T) {
	cfg := testConfig()
	cfg.SerializePoolAccess = true
	cfg.NoWaits = true
	f, err := cfg.Flags()
	require.NoError(t, err)
	assert.True(t, f.Has(PoolSerialize))
	assert.True(t, f.Has(NoWaits))
}

func TestConfigTimings(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 25*time.Microsecond, cfg.TRead())
	assert.Equal(t, 500*time.Microsecond, cfg.TWrite())
	assert.Equal(t, 1500*time.Microsecond, cfg.TErase())
	assert.Equal(t, time.Second, cfg.GCTime())
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.GCTimeMS = 0
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.NrPagesPerBlk = 10
	assert.Error(t, cfg.Validate())
}
