package world

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/Tnze/go-mc/nbt"
	"github.com/Tnze/go-mc/save/region"
)

// Sector compression schemes used by Anvil region files.
const (
	compressionGzip = 1
	compressionZlib = 2
	compressionNone = 3
)

type chunkNBT struct {
	DataVersion int32        `nbt:"DataVersion"`
	XPos        int32        `nbt:"xPos"`
	ZPos        int32        `nbt:"zPos"`
	YPos        int32        `nbt:"yPos"`
	Status      string       `nbt:"Status"`
	Sections    []sectionNBT `nbt:"sections"`
}

type sectionNBT struct {
	Y           int8           `nbt:"Y"`
	BlockStates blockStatesNBT `nbt:"block_states"`
	Biomes      biomesNBT      `nbt:"biomes"`
}

type blockStatesNBT struct {
	Palette []blockNBT `nbt:"palette"`
	Data    []int64    `nbt:"data"`
}

type blockNBT struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties"`
}

type biomesNBT struct {
	Palette []string `nbt:"palette"`
	Data    []int64  `nbt:"data"`
}

func regionPath(dir string, rx, rz int32) string {
	return filepath.Join(dir, "region", fmt.Sprintf("r.%d.%d.mca", rx, rz))
}

// regionCoord returns the region holding chunk coordinate c.
func regionCoord(c int32) int32 {
	return c >> 5
}

// readRegion decodes every chunk of region (rx, rz) that lies in the square
// [-radius, radius] and hands it to fn. Missing files or chunks are fatal.
func readRegion(dir string, rx, rz, radius int32, fn func(*chunkNBT) error) error {
	path := regionPath(dir, rx, rz)
	r, err := region.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: missing region file %s", ErrFatalLoad, path)
		}
		return fmt.Errorf("%w: failed to open region %s: %v", ErrFatalLoad, path, err)
	}
	defer r.Close()

	minX, maxX := clampToRegion(rx, radius)
	minZ, maxZ := clampToRegion(rz, radius)
	for cz := minZ; cz <= maxZ; cz++ {
		for cx := minX; cx <= maxX; cx++ {
			lx, lz := int(cx&31), int(cz&31)
			if !r.ExistSector(lx, lz) {
				return fmt.Errorf("%w: chunk %d,%d missing from %s", ErrFatalLoad, cx, cz, path)
			}
			sector, err := r.ReadSector(lx, lz)
			if err != nil {
				return fmt.Errorf("%w: failed to read chunk %d,%d: %v", ErrFatalLoad, cx, cz, err)
			}
			col, err := decodeChunk(sector)
			if err != nil {
				return fmt.Errorf("%w: chunk %d,%d: %v", ErrFatalLoad, cx, cz, err)
			}
			if col.XPos != cx || col.ZPos != cz {
				return fmt.Errorf("%w: chunk in slot %d,%d claims position %d,%d", ErrFatalLoad, cx, cz, col.XPos, col.ZPos)
			}
			if err := fn(col); err != nil {
				return err
			}
		}
	}
	return nil
}

// clampToRegion returns the chunk range of region r that falls within radius.
func clampToRegion(r, radius int32) (int32, int32) {
	lo, hi := r*32, r*32+31
	if lo < -radius {
		lo = -radius
	}
	if hi > radius {
		hi = radius
	}
	return lo, hi
}

// decodeChunk parses one region sector: a compression byte followed by the
// compressed NBT document.
func decodeChunk(sector []byte) (*chunkNBT, error) {
	if len(sector) < 1 {
		return nil, errors.New("empty sector")
	}

	var r io.Reader = bytes.NewReader(sector[1:])
	switch sector[0] {
	case compressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case compressionZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		r = zr
	case compressionNone:
	default:
		return nil, fmt.Errorf("unsupported compression type %d", sector[0])
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var col chunkNBT
	if err := nbt.Unmarshal(raw, &col); err != nil {
		return nil, fmt.Errorf("nbt: %w", err)
	}
	return &col, nil
}
