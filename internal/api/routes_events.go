package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xoogware/crawlspace/internal/events"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait / 2
	streamQueue      = 64
)

var streamSeq atomic.Uint64

// eventStream forwards bus events to one websocket client. Events are
// dropped when the client falls behind.
type eventStream struct {
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newEventStream(ws *websocket.Conn) *eventStream {
	return &eventStream{
		ws:   ws,
		send: make(chan []byte, streamQueue),
		done: make(chan struct{}),
	}
}

func (es *eventStream) enqueue(b []byte) {
	select {
	case es.send <- b:
	case <-es.done:
	default:
	}
}

func (es *eventStream) close() {
	es.once.Do(func() {
		close(es.done)
		_ = es.ws.Close()
	})
}

func (es *eventStream) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	defer es.close()

	for {
		select {
		case <-es.done:
			return
		case msg := <-es.send:
			es.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := es.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			es.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := es.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; it returns when the client goes away.
func (es *eventStream) readPump() {
	defer es.close()
	es.ws.SetReadLimit(4096)
	es.ws.SetReadDeadline(time.Now().Add(streamPongWait))
	es.ws.SetPongHandler(func(string) error {
		es.ws.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	for {
		if _, _, err := es.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.api.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, o := range allowed {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// streamTypes parses ?types=a,b into event types. Empty means all.
func streamTypes(raw string) ([]events.EventType, error) {
	if raw == "" {
		return events.AllTypes, nil
	}
	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}
	var types []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if !known[t] {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		types = append(types, t)
	}
	return types, nil
}

// handleEvents upgrades to a websocket and streams bus events as JSON.
func (s *Server) handleEvents(c *gin.Context) {
	types, err := streamTypes(c.Query("types"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	upgrader := s.upgrader()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	stream := newEventStream(ws)
	name := fmt.Sprintf("api-stream-%d", streamSeq.Add(1))
	s.eventBus.SubscribeMany(types, name, func(_ context.Context, e events.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		stream.enqueue(data)
		return nil
	})
	defer func() {
		for _, t := range types {
			s.eventBus.Unsubscribe(t, name)
		}
	}()

	s.logger.Debug().Str("subscriber", name).Str("remote", c.ClientIP()).Msg("event stream opened")

	go stream.writePump()
	stream.readPump()

	s.logger.Debug().Str("subscriber", name).Msg("event stream closed")
}
