package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/util"
)

const (
	presenceKeyPrefix = "crawlspace"
	presenceTimeout   = 3 * time.Second
)

// Presence mirrors the online player set of this instance into Redis so
// proxies and other instances can see who is parked in limbo.
type Presence struct {
	client   *redis.Client
	instance string
	logger   zerolog.Logger
}

// NewPresence creates a presence mirror. It does not connect until Start.
func NewPresence(cfg config.RedisConfig) *Presence {
	return &Presence{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Address,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: presenceTimeout,
		}),
		instance: cfg.Instance,
		logger:   util.ComponentLogger("presence"),
	}
}

// OnlineKey is the set of online player UUIDs for instance.
func OnlineKey(instance string) string {
	return fmt.Sprintf("%s:%s:online", presenceKeyPrefix, instance)
}

// PlayersKey is the hash of UUID to player name for instance.
func PlayersKey(instance string) string {
	return fmt.Sprintf("%s:%s:players", presenceKeyPrefix, instance)
}

// Start clears stale presence, mirrors join and leave events, and clears
// the keys again once ctx is cancelled.
func (p *Presence) Start(ctx context.Context, bus *events.EventBus) error {
	pingCtx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	if err := p.client.Ping(pingCtx).Err(); err != nil {
		p.client.Close()
		return fmt.Errorf("redis ping %s failed: %w", p.client.Options().Addr, err)
	}
	if err := p.Reset(ctx); err != nil {
		p.client.Close()
		return err
	}
	p.logger.Info().
		Str("addr", p.client.Options().Addr).
		Str("instance", p.instance).
		Msg("presence mirror started")

	bus.Subscribe(events.EventPlayerJoined, "presence", func(ctx context.Context, e events.Event) error {
		pl, ok := e.Payload.(events.PlayerPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return p.Join(ctx, pl.UUID, pl.Name)
	})
	bus.Subscribe(events.EventPlayerLeft, "presence", func(ctx context.Context, e events.Event) error {
		pl, ok := e.Payload.(events.PlayerPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return p.Leave(ctx, pl.UUID)
	})

	<-ctx.Done()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := p.Reset(cleanupCtx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to clear presence on shutdown")
	}
	return p.client.Close()
}

// Join marks a player online.
func (p *Presence) Join(ctx context.Context, uuid, name string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, OnlineKey(p.instance), uuid)
		pipe.HSet(ctx, PlayersKey(p.instance), uuid, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence join %s: %w", name, err)
	}
	return nil
}

// Leave marks a player offline.
func (p *Presence) Leave(ctx context.Context, uuid string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, OnlineKey(p.instance), uuid)
		pipe.HDel(ctx, PlayersKey(p.instance), uuid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence leave %s: %w", uuid, err)
	}
	return nil
}

// Reset removes every presence key of this instance.
func (p *Presence) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, OnlineKey(p.instance), PlayersKey(p.instance)).Err(); err != nil {
		return fmt.Errorf("redis presence reset: %w", err)
	}
	return nil
}

// Online returns the UUID to name map this instance has published.
func (p *Presence) Online(ctx context.Context) (map[string]string, error) {
	players, err := p.client.HGetAll(ctx, PlayersKey(p.instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis presence read: %w", err)
	}
	return players, nil
}

// ClusterOnline sums the online sets of every instance sharing the Redis
// database.
func (p *Presence) ClusterOnline(ctx context.Context) (int64, error) {
	var (
		total  int64
		cursor uint64
	)
	pattern := fmt.Sprintf("%s:*:online", presenceKeyPrefix)
	for {
		keys, next, err := p.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis presence scan: %w", err)
		}
		for _, k := range keys {
			n, err := p.client.SCard(ctx, k).Result()
			if err != nil {
				return 0, fmt.Errorf("redis presence count %s: %w", k, err)
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
