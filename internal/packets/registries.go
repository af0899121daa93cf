package packets

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

//go:embed registries.json
var registriesJSON []byte

var (
	registriesOnce sync.Once
	registries     []RegistryData
	registriesErr  error
)

// Registries returns the synchronized registries sent during configuration,
// in send order. The slice is shared and must not be modified.
func Registries() ([]RegistryData, error) {
	registriesOnce.Do(func() {
		var raw []struct {
			Registry string   `json:"registry"`
			Entries  []string `json:"entries"`
		}
		if err := json.Unmarshal(registriesJSON, &raw); err != nil {
			registriesErr = fmt.Errorf("failed to parse embedded registries: %w", err)
			return
		}
		for _, r := range raw {
			registries = append(registries, RegistryData{Registry: r.Registry, Entries: r.Entries})
		}
	})
	return registries, registriesErr
}

// RegistryIndex returns the position of entry within registry, which is the
// numeric id the client assigns it.
func RegistryIndex(registry, entry string) (int32, error) {
	all, err := Registries()
	if err != nil {
		return 0, err
	}
	for _, r := range all {
		if r.Registry != registry {
			continue
		}
		for i, e := range r.Entries {
			if e == entry {
				return int32(i), nil
			}
		}
		return 0, fmt.Errorf("registry %s has no entry %s", registry, entry)
	}
	return 0, fmt.Errorf("unknown registry %s", registry)
}
