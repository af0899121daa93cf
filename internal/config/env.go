package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays LIMBO_* environment variables on the loaded file. The
// overrides are not written back to disk.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a number", key, v))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}

	str("LIMBO_WORLD", &c.World.Directory)
	str("LIMBO_ADDRESS", &c.Server.Address)
	num("LIMBO_PORT", &c.Server.Port)
	float("LIMBO_SPAWN_X", &c.World.SpawnX)
	float("LIMBO_SPAWN_Y", &c.World.SpawnY)
	float("LIMBO_SPAWN_Z", &c.World.SpawnZ)
	num("LIMBO_BORDER_RADIUS", &c.World.BorderRadius)
	num("LIMBO_MAX_PLAYERS", &c.Server.MaxPlayers)
	str("LIMBO_MOTD", &c.Server.MOTD)
	num("LIMBO_COMPRESSION_THRESHOLD", &c.Server.CompressionThreshold)
	boolean("LIMBO_ENCRYPTION", &c.Server.Encryption)
	str("LIMBO_VELOCITY_SECRET", &c.Server.VelocitySecret)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
