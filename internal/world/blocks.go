package world

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	mcblock "github.com/Tnze/go-mc/level/block"
	"github.com/Tnze/go-mc/nbt"
	"github.com/rs/zerolog/log"

	"github.com/xoogware/crawlspace/internal/protocol"
)

// lastSharedBlock is the final block of the vanilla registry prefix whose
// state ids go-mc's built-in table shares with 1.21.1. Blocks registered
// after it moved or are new, so the built-in table stops here.
const lastSharedBlock = "minecraft:tuff"

// renamedBlocks maps go-mc's block names to their 1.21.1 names.
var renamedBlocks = map[string]string{
	"minecraft:grass": "minecraft:short_grass",
}

const airName = "minecraft:air"

var airNames = map[string]bool{
	"minecraft:air":      true,
	"minecraft:cave_air": true,
	"minecraft:void_air": true,
}

// BlockTable maps block names and properties to global block-state ids.
type BlockTable struct {
	states   map[string]int32
	defaults map[string]int32
	air      map[int32]bool
	airID    int32

	// builtin is set for the table derived from go-mc. It does not cover the
	// whole registry, so an unknown block fails the load instead of turning
	// into air.
	builtin bool

	unknownMu sync.Mutex
	unknown   map[string]bool
}

type reportBlock struct {
	States []struct {
		ID         int32             `json:"id"`
		Default    bool              `json:"default"`
		Properties map[string]string `json:"properties"`
	} `json:"states"`
}

func newBlockTable() *BlockTable {
	return &BlockTable{
		states:   make(map[string]int32),
		defaults: make(map[string]int32),
		air:      make(map[int32]bool),
		unknown:  make(map[string]bool),
	}
}

func (t *BlockTable) add(name string, props map[string]string, id int32, isDefault bool) {
	t.states[stateKey(name, props)] = id
	if _, seen := t.defaults[name]; !seen || isDefault {
		t.defaults[name] = id
	}
	if airNames[name] {
		t.air[id] = true
	}
}

func (t *BlockTable) finish() error {
	airID, ok := t.defaults[airName]
	if !ok {
		return fmt.Errorf("block report has no %s", airName)
	}
	t.airID = airID
	return nil
}

// LoadBlockTable reads a vanilla blocks.json report from path, or builds the
// built-in table when path is empty.
func LoadBlockTable(path string) (*BlockTable, error) {
	if path == "" {
		return BuiltinBlockTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block report: %w", err)
	}
	return ParseBlockTable(data)
}

// BuiltinBlockTable derives the block table from go-mc's state list, up to
// and including lastSharedBlock. A block's default is its zero-valued
// go-mc state when that state exists, otherwise its first state.
func BuiltinBlockTable() (*BlockTable, error) {
	t := newBlockTable()
	t.builtin = true

	for id, b := range mcblock.StateList {
		name := b.ID()
		if renamed, ok := renamedBlocks[name]; ok {
			name = renamed
		}
		props, err := blockProperties(b)
		if err != nil {
			return nil, fmt.Errorf("block state %d (%s): %w", id, name, err)
		}
		t.add(name, props, int32(id), false)
		if name == lastSharedBlock {
			break
		}
	}

	for name, b := range mcblock.FromID {
		if renamed, ok := renamedBlocks[name]; ok {
			name = renamed
		}
		if _, known := t.defaults[name]; !known {
			continue
		}
		if id, ok := mcblock.ToStateID[b]; ok {
			t.defaults[name] = int32(id)
		}
	}

	if err := t.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// blockProperties renders a go-mc block state's properties the way anvil
// palettes store them: every value as a string.
func blockProperties(b mcblock.Block) (map[string]string, error) {
	data, err := nbt.Marshal(b)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	if err := nbt.Unmarshal(data, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// ParseBlockTable parses a vanilla blocks.json report.
func ParseBlockTable(data []byte) (*BlockTable, error) {
	var report map[string]reportBlock
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse block report: %w", err)
	}

	t := newBlockTable()
	for name, block := range report {
		for _, st := range block.States {
			t.add(name, st.Properties, st.ID, st.Default)
		}
	}
	if err := t.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

func stateKey(name string, props map[string]string) string {
	if len(props) == 0 {
		return name
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

// StateID returns the global id for a block with the given properties.
// Missing property combinations fall back to the block's default state;
// unknown blocks map to air and are logged once per name.
func (t *BlockTable) StateID(name string, props map[string]string) int32 {
	if id, ok := t.lookup(name, props); ok {
		return id
	}
	t.warnUnknown(name)
	return t.airID
}

// Resolve is StateID for world loading. With the built-in table an unknown
// block is an error, since it may be a real block newer than the table.
func (t *BlockTable) Resolve(name string, props map[string]string) (int32, error) {
	if id, ok := t.lookup(name, props); ok {
		return id, nil
	}
	if t.builtin {
		return 0, fmt.Errorf("block %s is not in the built-in block table, set world.blocks_report to a %s blocks.json report", name, protocol.VersionName)
	}
	t.warnUnknown(name)
	return t.airID, nil
}

func (t *BlockTable) lookup(name string, props map[string]string) (int32, bool) {
	if id, ok := t.states[stateKey(name, props)]; ok {
		return id, true
	}
	id, ok := t.defaults[name]
	return id, ok
}

func (t *BlockTable) warnUnknown(name string) {
	t.unknownMu.Lock()
	first := !t.unknown[name]
	t.unknown[name] = true
	t.unknownMu.Unlock()
	if first {
		log.Warn().Str("component", "world").Str("block", name).Msg("Unknown block, substituting air")
	}
}

// AirID returns the state id of plain air.
func (t *BlockTable) AirID() int32 {
	return t.airID
}

// IsAir reports whether id is any kind of air.
func (t *BlockTable) IsAir(id int32) bool {
	return t.air[id]
}

// Len returns the number of known block states.
func (t *BlockTable) Len() int {
	return len(t.states)
}
