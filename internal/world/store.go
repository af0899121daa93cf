// Package world loads the fixed limbo world from disk once at startup and
// serves it as ready-to-send chunk packets.
package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xoogware/crawlspace/internal/packets"
	"github.com/xoogware/crawlspace/internal/protocol"
)

// ErrFatalLoad means the world on disk is missing or malformed. The server
// refuses to start rather than serve a partial world.
var ErrFatalLoad = errors.New("fatal world load error")

// The End: min Y 0, height 256.
const (
	minSectionY  = 0
	sectionCount = 16
)

// MaxRadius bounds the border radius in chunks.
const MaxRadius = 64

// ChunkPos is a chunk column coordinate.
type ChunkPos struct {
	X, Z int32
}

// Chunk is an encoded chunk column.
type Chunk struct {
	Pos     ChunkPos
	Payload []byte
}

// Store holds the loaded world. It is immutable after Load returns and safe
// for concurrent readers.
type Store struct {
	radius   int32
	chunks   map[ChunkPos][]byte
	ordered  []Chunk
	bytes    int
	loadTime time.Duration
}

// Stats summarizes a loaded world.
type Stats struct {
	Radius     int           `json:"radius"`
	Chunks     int           `json:"chunks"`
	Bytes      int           `json:"bytes"`
	LoadTimeMS int64         `json:"load_time_ms"`
	LoadTime   time.Duration `json:"-"`
}

// Load reads every chunk column within radius of the origin from the Anvil
// region files under dir and encodes each into a chunk packet payload.
// Region files are decoded in parallel.
func Load(ctx context.Context, dir string, radius int, blocks *BlockTable) (*Store, error) {
	if radius < 1 || radius > MaxRadius {
		return nil, fmt.Errorf("%w: border radius %d outside 1..%d", ErrFatalLoad, radius, MaxRadius)
	}
	logger := log.With().Str("component", "world").Str("dir", dir).Logger()
	started := time.Now()
	r := int32(radius)

	var (
		mu     sync.Mutex
		chunks = make(map[ChunkPos][]byte, (2*radius+1)*(2*radius+1))
	)

	g, gctx := errgroup.WithContext(ctx)
	for rz := regionCoord(-r); rz <= regionCoord(r); rz++ {
		for rx := regionCoord(-r); rx <= regionCoord(r); rx++ {
			rx, rz := rx, rz
			g.Go(func() error {
				return readRegion(dir, rx, rz, r, func(col *chunkNBT) error {
					if err := gctx.Err(); err != nil {
						return err
					}
					payload, err := encodeChunk(col, blocks, logger)
					if err != nil {
						return fmt.Errorf("%w: chunk %d,%d: %v", ErrFatalLoad, col.XPos, col.ZPos, err)
					}
					mu.Lock()
					chunks[ChunkPos{col.XPos, col.ZPos}] = payload
					mu.Unlock()
					return nil
				})
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := newStore(r, chunks)
	s.loadTime = time.Since(started)
	logger.Info().
		Int("chunks", len(s.chunks)).
		Int("bytes", s.bytes).
		Dur("took", s.loadTime).
		Msg("World loaded")
	return s, nil
}

// NewVoid builds a world of empty chunks, for running without a save.
func NewVoid(radius int, blocks *BlockTable) (*Store, error) {
	if radius < 1 || radius > MaxRadius {
		return nil, fmt.Errorf("%w: border radius %d outside 1..%d", ErrFatalLoad, radius, MaxRadius)
	}
	r := int32(radius)
	chunks := make(map[ChunkPos][]byte)
	for z := -r; z <= r; z++ {
		for x := -r; x <= r; x++ {
			payload, err := encodeChunk(&chunkNBT{XPos: x, ZPos: z}, blocks, log.Logger)
			if err != nil {
				return nil, err
			}
			chunks[ChunkPos{x, z}] = payload
		}
	}
	return newStore(r, chunks), nil
}

func newStore(radius int32, chunks map[ChunkPos][]byte) *Store {
	s := &Store{radius: radius, chunks: chunks}
	s.ordered = make([]Chunk, 0, len(chunks))
	for pos, payload := range chunks {
		s.ordered = append(s.ordered, Chunk{Pos: pos, Payload: payload})
		s.bytes += len(payload)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i].Pos, s.ordered[j].Pos
		da, db := a.X*a.X+a.Z*a.Z, b.X*b.X+b.Z*b.Z
		if da != db {
			return da < db
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return s
}

func encodeChunk(col *chunkNBT, blocks *BlockTable, logger zerolog.Logger) ([]byte, error) {
	var sections [sectionCount][]int32
	for _, sec := range col.Sections {
		idx := int(sec.Y) - minSectionY
		if idx < 0 || idx >= sectionCount {
			continue
		}
		states, err := decodeBlockStates(sec.BlockStates, blocks)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sec.Y, err)
		}
		sections[idx] = states
	}

	b := protocol.NewFieldBuilder()
	for _, states := range sections {
		writeSection(b, states, blocks)
	}

	logger.Trace().Int32("x", col.XPos).Int32("z", col.ZPos).Str("status", col.Status).Int("bytes", b.Len()).Msg("Encoded chunk")

	return packets.Encode(protocol.StatePlay, &packets.ChunkData{
		X:            col.XPos,
		Z:            col.ZPos,
		Sections:     b.Build(),
		SectionCount: sectionCount,
	})
}

// ChunkAt returns the chunk packet payload for (x, z), or nil outside the border.
func (s *Store) ChunkAt(x, z int32) []byte {
	return s.chunks[ChunkPos{x, z}]
}

// Nearest returns every chunk ordered by distance from the origin.
// The slice is shared and must not be modified.
func (s *Store) Nearest() []Chunk {
	return s.ordered
}

// Radius returns the border radius in chunks.
func (s *Store) Radius() int {
	return int(s.radius)
}

// Len returns the number of loaded chunks.
func (s *Store) Len() int {
	return len(s.chunks)
}

// Stats returns a summary for monitoring.
func (s *Store) Stats() Stats {
	return Stats{
		Radius:     int(s.radius),
		Chunks:     len(s.chunks),
		Bytes:      s.bytes,
		LoadTimeMS: s.loadTime.Milliseconds(),
		LoadTime:   s.loadTime,
	}
}
