package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
ads:
  region: "eu"
  client_id: "amzn1.application-oa2-client.yaml"
optimizer:
  target_acos: 25
`)

	// Clear env vars that might interfere with test
	os.Unsetenv("PGHOST")
	os.Unsetenv("ADS_REGION")

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ADS_CLIENT_ID", "amzn1.application-oa2-client.env")
	t.Setenv("ADS_ACCESS_TOKEN", "Atza|secret")

	cfg, err := LoadFrom(path, "test-version")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "eu", cfg.Ads.Region)
	assert.Equal(t, "amzn1.application-oa2-client.env", cfg.Ads.ClientID)
	assert.Equal(t, "Atza|secret", cfg.Ads.AccessToken)
	assert.InDelta(t, 25.0, cfg.Optimizer.TargetACOS, 1e-9)
}

func TestLoadFrom_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "env: test\n")

	os.Unsetenv("ADS_REGION")
	os.Unsetenv("ADS_MAX_PAGES")
	os.Unsetenv("OPTIMIZER_MIN_CLICKS")
	os.Unsetenv("PIPELINE_ERROR_MESSAGE_MAX_LENGTH")

	cfg, err := LoadFrom(path, "v")
	require.NoError(t, err)

	assert.Equal(t, "na", cfg.Ads.Region)
	assert.Equal(t, 20, cfg.Ads.MaxPages)
	assert.Equal(t, 1000, cfg.Pipeline.ErrorMessageMaxLength)

	rule := cfg.Optimizer.DefaultRule()
	assert.InDelta(t, 30.0, rule.TargetACOS, 1e-9)
	assert.InDelta(t, 0.02, rule.MinBid, 1e-9)
	assert.InDelta(t, 100.0, rule.MaxBid, 1e-9)
	assert.InDelta(t, 0.10, rule.BidStep, 1e-9)
	assert.Equal(t, 10, rule.MinClicks)
}

func TestLoadFrom_InvalidRegion(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "ads:\n  region: \"apac\"\n")
	os.Unsetenv("ADS_REGION")

	_, err := LoadFrom(path, "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ads.region")
}

func TestLoadFrom_MissingConfigFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "v")
	assert.Error(t, err)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	if IsRunningInDocker() {
		t.Skip("host rewriting applies inside containers")
	}
	db := DatabaseConfig{Host: "localhost", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5433 user=u password=p dbname=d sslmode=disable", db.ConnectionString())
	assert.Equal(t, "postgres://u:p@localhost:5433/d?sslmode=disable", db.URL())
}

func TestResolveHostForDocker(t *testing.T) {
	assert.Equal(t, "db.internal", ResolveHostForDocker("db.internal"))
	if !IsRunningInDocker() {
		assert.Equal(t, "localhost", ResolveHostForDocker("localhost"))
	}
}

func TestLoadRulePresets(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid presets with defaults", func(t *testing.T) {
		path := writeFile(t, dir, "presets.yaml", `
presets:
  - name: conservative
    target_acos: 20
    bid_step: 0.05
  - name: aggressive
    target_acos: 45
    max_bid: 5
    min_clicks: 5
`)
		presets, err := LoadRulePresets(path)
		require.NoError(t, err)
		require.Len(t, presets, 2)

		c := presets["conservative"]
		assert.InDelta(t, 20.0, c.TargetACOS, 1e-9)
		assert.InDelta(t, 0.05, c.BidStep, 1e-9)
		assert.InDelta(t, 0.02, c.MinBid, 1e-9)
		assert.InDelta(t, 100.0, c.MaxBid, 1e-9)

		a := presets["aggressive"]
		assert.InDelta(t, 5.0, a.MaxBid, 1e-9)
		assert.Equal(t, 5, a.MinClicks)
	})

	t.Run("duplicate name", func(t *testing.T) {
		path := writeFile(t, dir, "dup.yaml", "presets:\n  - name: a\n  - name: a\n")
		_, err := LoadRulePresets(path)
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("missing name", func(t *testing.T) {
		path := writeFile(t, dir, "noname.yaml", "presets:\n  - target_acos: 10\n")
		_, err := LoadRulePresets(path)
		assert.ErrorContains(t, err, "no name")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "presets: [\n")
		_, err := LoadRulePresets(path)
		assert.Error(t, err)
	})
}
