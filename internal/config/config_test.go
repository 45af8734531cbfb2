package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "yolo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsDuplicateCounterpartyIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = []ProviderConfig{{ID: "aave-v3"}, {ID: "aave-v3"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")

	// A venue colliding with a provider id is also rejected; both share the
	// registry namespace.
	cfg = validConfig()
	cfg.Providers = []ProviderConfig{{ID: "aave-v3"}}
	cfg.Venues = []VenueConfig{{ID: "aave-v3", RouterAddress: "0x1"}}

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestValidateCapabilityPairing(t *testing.T) {
	cfg := validConfig()
	cfg.Registry.CapabilityHash = "deadbeef"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability_hash and capability_salt")

	cfg.Registry.CapabilitySalt = "salt"
	require.NoError(t, cfg.Validate())
}

func TestValidateChainRequiredInSettleMode(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Enabled = true
	cfg.Chain.RPCURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url")

	// In monitor mode the chain section is not enforced.
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestValidateDistributedLockNeedsTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Settlement.DistributedLock = true
	cfg.Settlement.LockTTL = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHARB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FLASHARB_SERVER_PORT", "9001")
	t.Setenv("FLASHARB_CHAIN_ENABLED", "true")
	t.Setenv("FLASHARB_SETTLEMENT_LOCK_TTL", "45s")
	t.Setenv("FLASHARB_NOTIFY_EVENTS", "settlement_failed, registry_changed")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.Chain.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Settlement.LockTTL.Duration)
	assert.Equal(t, []string{"settlement_failed", "registry_changed"}, cfg.Notify.Events)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"
	cfg.Notify.TelegramToken = "hunter2"

	red := RedactedConfig(&cfg)

	assert.Equal(t, redacted, red.Postgres.Password)
	assert.Equal(t, redacted, red.Redis.Password)
	assert.Equal(t, redacted, red.S3.SecretKey)
	assert.Equal(t, redacted, red.Server.APIKey)
	assert.Equal(t, redacted, red.Notify.TelegramToken)

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Empty fields stay empty rather than turning into the placeholder.
	assert.Empty(t, red.S3.AccessKey)
}
