package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xoogware/crawlspace/internal/protocol"
	"github.com/xoogware/crawlspace/internal/session"
)

const (
	statusCacheKey = "status"
	statusCacheTTL = time.Second
)

// Status is the server list response. The API serves the same document.
type Status struct {
	Version            StatusVersion `json:"version"`
	Players            StatusPlayers `json:"players"`
	Description        StatusText    `json:"description"`
	EnforcesSecureChat bool          `json:"enforcesSecureChat"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type StatusPlayers struct {
	Online int `json:"online"`
	Max    int `json:"max"`
}

type StatusText struct {
	Text string `json:"text"`
}

// StatusCache renders the status document at most once per TTL, however
// many clients ping at the same moment.
type StatusCache struct {
	motd     string
	sessions *session.Registry
	cache    *cache.Cache
	group    singleflight.Group
}

// NewStatusCache creates a cache reading the online count from sessions.
func NewStatusCache(motd string, sessions *session.Registry, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = statusCacheTTL
	}
	return &StatusCache{
		motd:     motd,
		sessions: sessions,
		cache:    cache.New(ttl, 10*ttl),
	}
}

// Status returns the current status document without caching.
func (s *StatusCache) Status() Status {
	return Status{
		Version: StatusVersion{
			Name:     protocol.VersionName,
			Protocol: protocol.ProtocolVersion,
		},
		Players: StatusPlayers{
			Online: s.sessions.Count(),
			Max:    s.sessions.Max(),
		},
		Description: StatusText{Text: s.motd},
	}
}

// JSON returns the cached status document.
func (s *StatusCache) JSON() (string, error) {
	if v, ok := s.cache.Get(statusCacheKey); ok {
		return v.(string), nil
	}

	v, err, _ := s.group.Do(statusCacheKey, func() (interface{}, error) {
		if v, ok := s.cache.Get(statusCacheKey); ok {
			return v, nil
		}
		data, err := json.Marshal(s.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		s.cache.SetDefault(statusCacheKey, string(data))
		return string(data), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached document, for callers that changed the count.
func (s *StatusCache) Invalidate() {
	s.cache.Delete(statusCacheKey)
}
