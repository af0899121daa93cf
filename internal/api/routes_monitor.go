package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xoogware/crawlspace/internal/util"
)

// countQuery parses ?count= clamped to [1, max].
func countQuery(c *gin.Context, def, max int) int {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(def)))
	if err != nil || count < 1 {
		count = def
	}
	if count > max {
		count = max
	}
	return count
}

// handleGetPlayers lists every online player.
func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.deps.Sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"online":  len(players),
		"max":     s.deps.Sessions.Max(),
	})
}

// handleGetPlayer looks a player up by UUID or name.
func (s *Server) handleGetPlayer(c *gin.Context) {
	entry, ok := s.deps.Sessions.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"player":         entry,
		"online_seconds": int64(time.Since(entry.JoinedAt).Seconds()),
	})
}

// handleGetSessions returns the most recent audited sessions.
func (s *Server) handleGetSessions(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session audit log is disabled"})
		return
	}
	records, err := s.deps.Audit.Recent(c.Request.Context(), countQuery(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": records,
		"count":    len(records),
	})
}

// handleGetFailures returns the most recent connection errors.
func (s *Server) handleGetFailures(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session audit log is disabled"})
		return
	}
	records, err := s.deps.Audit.RecentFailures(c.Request.Context(), countQuery(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"failures": records,
		"count":    len(records),
	})
}

// handleGetSystem returns host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{
		"system":      util.GetSystemInfo(),
		"connections": int64(0),
	}
	if s.deps.Conns != nil {
		resp["connections"] = s.deps.Conns.Connections()
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessUsage(s.deps.Started); err == nil {
		resp["process"] = proc
	}
	if disk, err := util.GetDiskUsage("."); err == nil {
		resp["disk"] = disk
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetWorld returns statistics about the preloaded world.
func (s *Server) handleGetWorld(c *gin.Context) {
	settings := s.cfg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"stats":     s.deps.World,
		"directory": settings.World.Directory,
		"void":      settings.World.Void,
		"spawn": gin.H{
			"x": settings.World.SpawnX,
			"y": settings.World.SpawnY,
			"z": settings.World.SpawnZ,
		},
	})
}

// handleGetCluster reports the player count across every instance sharing
// the Redis presence mirror.
func (s *Server) handleGetCluster(c *gin.Context) {
	if s.deps.Cluster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis presence is disabled"})
		return
	}
	total, err := s.deps.Cluster.ClusterOnline(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"online":       total,
		"local_online": s.deps.Sessions.Count(),
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	logDir := s.cfg.Snapshot().Logging.Directory
	entries, err := readRecentLogEntries(filepath.Join(logDir, util.LogFileName), countQuery(c, 100, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Known zerolog fields that are lifted out of "fields".
var knownLogKeys = map[string]bool{
	"level": true, "time": true, "message": true,
	"caller": true, "app": true, "component": true,
}

// readRecentLogEntries parses the last count JSON lines of the active log
// file. A missing file yields no entries.
func readRecentLogEntries(path string, count int) ([]logEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []logEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, count)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(ring) == count {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	result := make([]logEntry, 0, len(ring))
	for _, line := range ring {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Timestamp: stringFromMap(raw, "time"),
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownLogKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
