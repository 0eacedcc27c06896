package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9090
ledger:
  ttl: 1h
risk:
  max_notional: 100
  daily_loss_limit: 50
  time_zone: Asia/Tokyo
  symbol_positions:
    BTC-USD: 0.5
`)
	cfg, err := Load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, time.Hour, cfg.Ledger.TTL)
	assert.Equal(t, 100.0, cfg.Risk.MaxNotional)
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())
	assert.Equal(t, 30*time.Second, cfg.Ledger.OperationTimeout, "unset fields keep defaults")

	limits := cfg.Limits()
	assert.Equal(t, "100", limits.MaxNotional.String())
	assert.Equal(t, "50", limits.DailyLossLimit.String())
	assert.Equal(t, "0.5", limits.PositionLimit("BTC-USD").String())
	assert.Equal(t, "1", limits.PositionLimit("ETH-USD").String())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "risk:\n  max_notional: 100\n")
	cfg, err := Load(path, envMap(map[string]string{
		"SAFEGUARD_RISK_MAX_NOTIONAL": "250",
		"SAFEGUARD_ADMIN_TOKEN":       "s3cret",
		"SAFEGUARD_RISK_PERSIST":      "true",
		"SAFEGUARD_LEDGER_TTL":        "90m",
	}))
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.Risk.MaxNotional)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)
	assert.True(t, cfg.Risk.Persist)
	assert.Equal(t, 90*time.Minute, cfg.Ledger.TTL)
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown key", yaml: "bogus: 1\n"},
		{name: "negative limit", yaml: "risk:\n  max_notional: -1\n"},
		{name: "reset interval above a minute", yaml: "risk:\n  reset_interval: 5m\n"},
		{name: "bad time zone", yaml: "risk:\n  time_zone: Mars/Olympus\n"},
		{name: "unknown backend", yaml: "ledger:\n  backend: etcd\n"},
		{name: "redis without addr", yaml: "ledger:\n  backend: redis\n"},
		{name: "file sink without path", yaml: "audit:\n  sink: file\n"},
		{name: "bad env float", env: map[string]string{"SAFEGUARD_RISK_MAX_NOTIONAL": "lots"}},
		{name: "bad env duration", env: map[string]string{"SAFEGUARD_LEDGER_TTL": "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := Load(path, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_LedgerTTLMustOutliveOperation(t *testing.T) {
	tests := []struct {
		ttl     string
		wantErr bool
	}{
		{ttl: "1s", wantErr: true},
		{ttl: "30s", wantErr: true},
		{ttl: "31s"},
	}
	for _, tt := range tests {
		t.Run(tt.ttl, func(t *testing.T) {
			cfg, err := Load("", envMap(map[string]string{"SAFEGUARD_LEDGER_TTL": tt.ttl}))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), `Config.Ledger.TTL failed "gtfield"`)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 31*time.Second, cfg.Ledger.TTL)
		})
	}
}

func TestLoad_RedisBackendWithAddr(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ledger:\n  backend: redis\n  redis_addr: localhost:6379\n"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	assert.Error(t, err)
}
