package world

import (
	"fmt"
	"math/bits"

	"github.com/xoogware/crawlspace/internal/protocol"
)

const (
	sectionVolume = 16 * 16 * 16

	minIndirectBits = 4
	maxIndirectBits = 8
	// directBlockBits is ceil(log2(total block states)) for this protocol version.
	directBlockBits = 15
)

// paletteBits returns the bits per entry for a palette of n entries with the
// given lower bound, following the on-disk and network layout.
func paletteBits(n, min int) int {
	b := bits.Len(uint(n - 1))
	if b < min {
		b = min
	}
	return b
}

// packedLen returns the number of longs needed for count entries of width
// bitsPer. Entries never straddle two longs.
func packedLen(count, bitsPer int) int {
	perLong := 64 / bitsPer
	return (count + perLong - 1) / perLong
}

func packIndices(indices []uint32, bitsPer int) []uint64 {
	perLong := 64 / bitsPer
	longs := make([]uint64, packedLen(len(indices), bitsPer))
	for i, v := range indices {
		longs[i/perLong] |= uint64(v) << uint((i%perLong)*bitsPer)
	}
	return longs
}

func unpackIndices(data []int64, bitsPer, count int) ([]uint32, error) {
	if want := packedLen(count, bitsPer); len(data) != want {
		return nil, fmt.Errorf("packed array has %d longs, want %d for %d bits", len(data), want, bitsPer)
	}
	perLong := 64 / bitsPer
	mask := uint64(1)<<uint(bitsPer) - 1
	out := make([]uint32, count)
	for i := range out {
		word := uint64(data[i/perLong])
		out[i] = uint32((word >> uint((i%perLong)*bitsPer)) & mask)
	}
	return out, nil
}

// decodeBlockStates resolves an on-disk block_states compound to one global
// state id per block, in y, z, x order. A nil result means the section is air.
func decodeBlockStates(bs blockStatesNBT, table *BlockTable) ([]int32, error) {
	if len(bs.Palette) == 0 {
		return nil, nil
	}

	ids := make([]int32, len(bs.Palette))
	for i, entry := range bs.Palette {
		id, err := table.Resolve(entry.Name, entry.Properties)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	states := make([]int32, sectionVolume)
	if len(ids) == 1 {
		for i := range states {
			states[i] = ids[0]
		}
		return states, nil
	}

	indices, err := unpackIndices(bs.Data, paletteBits(len(ids), minIndirectBits), sectionVolume)
	if err != nil {
		return nil, err
	}
	for i, idx := range indices {
		if int(idx) >= len(ids) {
			return nil, fmt.Errorf("palette index %d out of range (palette has %d entries)", idx, len(ids))
		}
		states[i] = ids[idx]
	}
	return states, nil
}

// writeSection appends one chunk section in network form: non-air block
// count, block paletted container, and a single-valued biome container.
func writeSection(b *protocol.PacketBuilder, states []int32, table *BlockTable) {
	if states == nil {
		b.WriteInt16(0)
		writeSingleValued(b, table.AirID())
		writeSingleValued(b, 0)
		return
	}

	var nonAir int16
	palette := make([]int32, 0, 4)
	index := make(map[int32]uint32)
	for _, id := range states {
		if !table.IsAir(id) {
			nonAir++
		}
		if _, ok := index[id]; !ok {
			index[id] = uint32(len(palette))
			palette = append(palette, id)
		}
	}

	b.WriteInt16(nonAir)
	switch {
	case len(palette) == 1:
		writeSingleValued(b, palette[0])
	case paletteBits(len(palette), minIndirectBits) <= maxIndirectBits:
		bitsPer := paletteBits(len(palette), minIndirectBits)
		indices := make([]uint32, len(states))
		for i, id := range states {
			indices[i] = index[id]
		}
		b.WriteUint8(uint8(bitsPer))
		b.WriteVarInt(int32(len(palette)))
		for _, id := range palette {
			b.WriteVarInt(id)
		}
		b.WriteBitSet(packIndices(indices, bitsPer))
	default:
		indices := make([]uint32, len(states))
		for i, id := range states {
			indices[i] = uint32(id)
		}
		b.WriteUint8(directBlockBits)
		b.WriteBitSet(packIndices(indices, directBlockBits))
	}
	writeSingleValued(b, 0)
}

func writeSingleValued(b *protocol.PacketBuilder, value int32) {
	b.WriteUint8(0)
	b.WriteVarInt(value)
	b.WriteVarInt(0)
}
