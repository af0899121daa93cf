package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoogware/crawlspace/internal/protocol"
)

func testTable(t *testing.T) *BlockTable {
	t.Helper()
	table, err := LoadBlockTable("")
	require.NoError(t, err)
	return table
}

// readSection decodes one network section back into block states.
func readSection(t *testing.T, r *protocol.PacketReader) (int16, []int32) {
	t.Helper()
	count := r.ReadInt16()
	bitsPer := int(r.ReadUint8())

	var states []int32
	switch {
	case bitsPer == 0:
		v := r.ReadVarInt()
		assert.Equal(t, int32(0), r.ReadVarInt())
		states = make([]int32, sectionVolume)
		for i := range states {
			states[i] = v
		}
	case bitsPer <= maxIndirectBits:
		palette := make([]int32, r.ReadVarInt())
		for i := range palette {
			palette[i] = r.ReadVarInt()
		}
		longs := make([]int64, r.ReadVarInt())
		for i := range longs {
			longs[i] = r.ReadInt64()
		}
		indices, err := unpackIndices(longs, bitsPer, sectionVolume)
		require.NoError(t, err)
		for _, idx := range indices {
			states = append(states, palette[idx])
		}
	default:
		longs := make([]int64, r.ReadVarInt())
		for i := range longs {
			longs[i] = r.ReadInt64()
		}
		indices, err := unpackIndices(longs, bitsPer, sectionVolume)
		require.NoError(t, err)
		for _, idx := range indices {
			states = append(states, int32(idx))
		}
	}

	// Biomes are always single valued.
	assert.Equal(t, uint8(0), r.ReadUint8())
	assert.Equal(t, int32(0), r.ReadVarInt())
	assert.Equal(t, int32(0), r.ReadVarInt())
	require.NoError(t, r.Err())
	return count, states
}

func TestPaletteBits(t *testing.T) {
	cases := []struct{ n, want int }{
		{2, 4}, {16, 4}, {17, 5}, {32, 5}, {33, 6}, {256, 8}, {257, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, paletteBits(tc.n, minIndirectBits), "n=%d", tc.n)
	}
}

func TestPackIndices_NoSpanning(t *testing.T) {
	// Five-bit entries fit twelve to a long with four bits left unused.
	indices := make([]uint32, 13)
	for i := range indices {
		indices[i] = 31
	}
	longs := packIndices(indices, 5)
	require.Len(t, longs, 2)
	assert.Equal(t, uint64(1)<<60-1, longs[0])
	assert.Equal(t, uint64(31), longs[1])

	data := []int64{int64(longs[0]), int64(longs[1])}
	back, err := unpackIndices(data, 5, 13)
	require.NoError(t, err)
	assert.Equal(t, indices, back)

	_, err = unpackIndices(data[:1], 5, 13)
	assert.Error(t, err)
}

func TestWriteSection(t *testing.T) {
	table := testTable(t)

	t.Run("air section", func(t *testing.T) {
		b := protocol.NewFieldBuilder()
		writeSection(b, nil, table)
		count, states := readSection(t, protocol.NewPacketReader(b.Build()))
		assert.Equal(t, int16(0), count)
		assert.Equal(t, table.AirID(), states[0])
	})

	t.Run("single value", func(t *testing.T) {
		states := make([]int32, sectionVolume)
		for i := range states {
			states[i] = 1
		}
		b := protocol.NewFieldBuilder()
		writeSection(b, states, table)
		count, got := readSection(t, protocol.NewPacketReader(b.Build()))
		assert.Equal(t, int16(sectionVolume), count)
		assert.Equal(t, states, got)
	})

	t.Run("indirect", func(t *testing.T) {
		states := make([]int32, sectionVolume)
		for i := range states {
			if i < 256 {
				states[i] = 79
			} else if i%7 == 0 {
				states[i] = int32(1 + i%14)
			}
		}
		b := protocol.NewFieldBuilder()
		writeSection(b, states, table)
		r := protocol.NewPacketReader(b.Build())
		count, got := readSection(t, r)
		assert.NoError(t, r.Finish())
		assert.Equal(t, states, got)

		var nonAir int16
		for _, s := range states {
			if s != 0 {
				nonAir++
			}
		}
		assert.Equal(t, nonAir, count)
	})

	t.Run("direct above eight bits", func(t *testing.T) {
		states := make([]int32, sectionVolume)
		for i := range states {
			states[i] = int32(i % 300)
		}
		b := protocol.NewFieldBuilder()
		writeSection(b, states, table)
		payload := b.Build()
		assert.Equal(t, uint8(directBlockBits), payload[2])
		_, got := readSection(t, protocol.NewPacketReader(payload))
		assert.Equal(t, states, got)
	})
}

func TestDecodeBlockStates(t *testing.T) {
	table := testTable(t)

	t.Run("empty palette is air", func(t *testing.T) {
		states, err := decodeBlockStates(blockStatesNBT{}, table)
		require.NoError(t, err)
		assert.Nil(t, states)
	})

	t.Run("palette with properties", func(t *testing.T) {
		indices := make([]uint32, sectionVolume)
		for i := range indices {
			indices[i] = uint32(i % 3)
		}
		longs := packIndices(indices, 4)
		data := make([]int64, len(longs))
		for i, l := range longs {
			data[i] = int64(l)
		}

		states, err := decodeBlockStates(blockStatesNBT{
			Palette: []blockNBT{
				{Name: "minecraft:air"},
				{Name: "minecraft:grass_block", Properties: map[string]string{"snowy": "true"}},
				{Name: "minecraft:end_stone"},
			},
			Data: data,
		}, table)
		require.NoError(t, err)
		assert.Equal(t, int32(0), states[0])
		assert.Equal(t, int32(8), states[1])
		assert.Equal(t, int32(7415), states[2])
	})

	t.Run("unknown block fails with the built-in table", func(t *testing.T) {
		_, err := decodeBlockStates(blockStatesNBT{
			Palette: []blockNBT{{Name: "minecraft:air"}, {Name: "minecraft:not_a_block"}},
			Data:    make([]int64, 256),
		}, table)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minecraft:not_a_block")
	})

	t.Run("unknown block is air with a report", func(t *testing.T) {
		report, err := ParseBlockTable([]byte(testReport))
		require.NoError(t, err)
		states, err := decodeBlockStates(blockStatesNBT{
			Palette: []blockNBT{{Name: "minecraft:stone"}, {Name: "minecraft:not_a_block"}},
			Data:    packedAlternating(),
		}, report)
		require.NoError(t, err)
		assert.Equal(t, int32(1), states[0])
		assert.Equal(t, int32(0), states[1])
	})

	t.Run("index past palette", func(t *testing.T) {
		indices := make([]uint32, sectionVolume)
		indices[10] = 5
		longs := packIndices(indices, 4)
		data := make([]int64, len(longs))
		for i, l := range longs {
			data[i] = int64(l)
		}
		_, err := decodeBlockStates(blockStatesNBT{
			Palette: []blockNBT{{Name: "minecraft:air"}, {Name: "minecraft:stone"}},
			Data:    data,
		}, table)
		assert.Error(t, err)
	})

	t.Run("wrong data length", func(t *testing.T) {
		_, err := decodeBlockStates(blockStatesNBT{
			Palette: []blockNBT{{Name: "minecraft:air"}, {Name: "minecraft:stone"}},
			Data:    make([]int64, 3),
		}, table)
		assert.Error(t, err)
	})
}

const testReport = `{
	"minecraft:air": {"states": [{"id": 0, "default": true}]},
	"minecraft:stone": {"states": [{"id": 1, "default": true}]},
	"minecraft:grass_block": {
		"properties": {"snowy": ["true", "false"]},
		"states": [
			{"id": 8, "properties": {"snowy": "true"}},
			{"id": 9, "default": true, "properties": {"snowy": "false"}}
		]
	}
}`

// packedAlternating packs a 1-bit palette index sequence 0,1,0,1,...
func packedAlternating() []int64 {
	indices := make([]uint32, sectionVolume)
	for i := range indices {
		indices[i] = uint32(i % 2)
	}
	longs := packIndices(indices, 4)
	data := make([]int64, len(longs))
	for i, l := range longs {
		data[i] = int64(l)
	}
	return data
}

func TestBlockTable(t *testing.T) {
	t.Run("built-in", func(t *testing.T) {
		table := testTable(t)

		assert.Equal(t, int32(0), table.AirID())
		assert.True(t, table.IsAir(0))
		assert.False(t, table.IsAir(1))
		assert.Equal(t, int32(1), table.StateID("minecraft:stone", nil))
		assert.Equal(t, int32(9), table.StateID("minecraft:grass_block", nil), "default state")
		assert.Equal(t, int32(8), table.StateID("minecraft:grass_block", map[string]string{"snowy": "true"}))
		assert.Equal(t, int32(79), table.StateID("minecraft:bedrock", nil))
		assert.Equal(t, int32(519), table.StateID("minecraft:glass", nil))
		assert.Equal(t, int32(2354), table.StateID("minecraft:obsidian", nil))
		assert.Equal(t, int32(7415), table.StateID("minecraft:end_stone", nil))
		assert.Equal(t, int32(21081), table.StateID("minecraft:tuff", nil))
		assert.Equal(t, int32(2005), table.StateID("minecraft:short_grass", nil))
		assert.True(t, table.IsAir(table.StateID("minecraft:cave_air", nil)))
		assert.Equal(t, 21082, table.Len())

		_, err := table.Resolve("minecraft:calcite", nil)
		assert.Error(t, err, "blocks after tuff are not covered")
		_, err = table.Resolve("minecraft:grass", nil)
		assert.Error(t, err, "renamed block")
		assert.Equal(t, int32(0), table.StateID("minecraft:mystery", nil))
	})

	t.Run("report", func(t *testing.T) {
		table, err := ParseBlockTable([]byte(testReport))
		require.NoError(t, err)
		assert.Equal(t, int32(9), table.StateID("minecraft:grass_block", nil), "flagged default")
		assert.Equal(t, int32(8), table.StateID("minecraft:grass_block", map[string]string{"snowy": "true"}))

		id, err := table.Resolve("minecraft:mystery", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(0), id)
	})

	_, err := ParseBlockTable([]byte(`{"minecraft:stone": {"states": [{"id": 1, "default": true}]}}`))
	assert.Error(t, err, "report without air")

	_, err = LoadBlockTable("/nonexistent/blocks.json")
	assert.Error(t, err)
}
