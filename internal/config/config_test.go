package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.True(t, cfg.IsFirstRun())

	_, err = os.Stat(cfg.Path())
	assert.NoError(t, err)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":25570},"world":{"directory":"/srv/end"}}`), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 25570, cfg.Server.Port)
	assert.Equal(t, DefaultMaxPlayers, cfg.Server.MaxPlayers, "missing fields keep defaults")
	assert.Equal(t, "/srv/end", cfg.World.Directory)
	assert.False(t, cfg.IsFirstRun())

	// The re-save fills in every option.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw["server"], "max_players")
	assert.Contains(t, raw, "timers")

	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0600))
	_, err = Load(dir)
	assert.Error(t, err)
}

func TestCore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.VelocitySecret = "hunter2"
	cfg.Timers.KeepAliveTimeoutSec = 0

	core := cfg.Core()
	assert.Equal(t, "[::]:25565", core.BindAddress())
	assert.Equal(t, []byte("hunter2"), core.VelocitySecret)
	assert.Equal(t, 10*time.Second, core.KeepAliveInterval)
	assert.Equal(t, 15*time.Second, core.KeepAliveTimeout, "zero falls back to the default")
	assert.Equal(t, 5*time.Second, core.LoginTimeout)
	assert.Equal(t, 100.0, core.SpawnY)

	cfg.Server.VelocitySecret = ""
	assert.Nil(t, cfg.Core().VelocitySecret)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LIMBO_WORLD":           "/data/world",
		"LIMBO_PORT":            "25599",
		"LIMBO_SPAWN_X":         "12.5",
		"LIMBO_BORDER_RADIUS":   "4",
		"LIMBO_ENCRYPTION":      "true",
		"LIMBO_VELOCITY_SECRET": "s3cret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "/data/world", cfg.World.Directory)
	assert.Equal(t, 25599, cfg.Server.Port)
	assert.Equal(t, 12.5, cfg.World.SpawnX)
	assert.Equal(t, 4, cfg.World.BorderRadius)
	assert.True(t, cfg.Server.Encryption)
	assert.Equal(t, "s3cret", cfg.Server.VelocitySecret)
	assert.Equal(t, "Limbo", cfg.Server.MOTD, "unset variables leave the file value")

	env = map[string]string{"LIMBO_PORT": "high", "LIMBO_ENCRYPTION": "maybe"}
	err := DefaultConfig().ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMBO_PORT")
	assert.Contains(t, err.Error(), "LIMBO_ENCRYPTION")
}

func TestUpdateFieldAndRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Token = "tok"

	require.NoError(t, cfg.UpdateField("server", "motd", "Welcome"))
	assert.Equal(t, "Welcome", cfg.Server.MOTD)
	require.NoError(t, cfg.UpdateField("server", "max_players", 12))
	assert.Equal(t, 12, cfg.Server.MaxPlayers)

	assert.Error(t, cfg.UpdateField("nope", "motd", "x"))
	assert.Error(t, cfg.UpdateField("server", "nope", "x"))
	assert.Error(t, cfg.UpdateField("server", "port", "not a port"))

	red := cfg.Redacted()
	assert.Equal(t, "********", red.API.Token)
	assert.Equal(t, "tok", cfg.API.Token)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.World.Directory = t.TempDir()
		return cfg
	}

	t.Run("defaults with a world are valid", func(t *testing.T) {
		res := Validate(valid())
		assert.True(t, res.IsValid(), "%v", res.Errors)
		assert.NoError(t, res.Err())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"radius too small", func(c *Config) { c.World.BorderRadius = 0 }, "world.border_radius"},
		{"radius too large", func(c *Config) { c.World.BorderRadius = 65 }, "world.border_radius"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no players", func(c *Config) { c.Server.MaxPlayers = 0 }, "server.max_players"},
		{"missing world", func(c *Config) { c.World.Directory = "/does/not/exist" }, "world.directory"},
		{"empty world", func(c *Config) { c.World.Directory = "" }, "world.directory"},
		{"port clash", func(c *Config) { c.API.Port = c.Server.Port }, "api.port"},
		{"tls without files", func(c *Config) { c.API.TLSEnabled = true }, "api.tls_cert_file"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }, "redis.address"},
		{"bad prune time", func(c *Config) { c.Database.PruneTime = "4am" }, "database.prune_time"},
		{"timeout shorter than interval", func(c *Config) { c.Timers.KeepAliveTimeoutSec = 5 }, "timers.keep_alive_timeout_sec"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			res := Validate(cfg)
			require.False(t, res.IsValid())
			var fields []string
			for _, e := range res.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tc.field)
			assert.Error(t, res.Err())
		})
	}

	t.Run("void world needs no directory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.World.Void = true
		assert.True(t, Validate(cfg).IsValid())
	})

	t.Run("privileged port warns", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 565
		res := Validate(cfg)
		assert.True(t, res.IsValid())
		require.NotEmpty(t, res.Warnings)
		assert.Equal(t, "server.port", res.Warnings[0].Field)
	})
}

func TestRunSetupWizard(t *testing.T) {
	dir := t.TempDir()
	world := t.TempDir()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, DefaultConfigFile)

	input := strings.Join([]string{
		"no",  // void
		world, // directory
		"6",   // radius
		"",    // port keeps default
		"40",  // max players
		"",    // velocity secret
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(input), &out))
	assert.Equal(t, world, cfg.World.Directory)
	assert.Equal(t, 6, cfg.World.BorderRadius)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 40, cfg.Server.MaxPlayers)
	assert.Contains(t, out.String(), "Configuration saved")

	reloaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 40, reloaded.Server.MaxPlayers)

	t.Run("invalid answers without retry", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)
		input := "no\n/does/not/exist\n\n\n\n\nno\n"
		err := RunSetupWizard(cfg, strings.NewReader(input), &bytes.Buffer{})
		assert.Error(t, err)
	})
}
