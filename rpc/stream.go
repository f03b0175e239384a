package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tolelom/ecobuild/events"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

// Stream pushes emitted events to websocket clients. Delivery is
// best-effort: a client that falls behind loses events rather than
// stalling the emitter.
type Stream struct {
	emitter  *events.Emitter
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStream creates a Stream fed by emitter.
func NewStream(emitter *events.Emitter, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		emitter: emitter,
		logger:  logger.With("component", "rpc", "endpoint", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close disconnects every client and waits for their goroutines to exit.
func (s *Stream) Close() {
	s.cancel()
	s.wg.Wait()
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the Stream is closed. The optional "types" query parameter is a
// comma-separated list of event types to receive.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	filter := parseTypes(r.URL.Query().Get("types"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	out := make(chan events.Event, streamBuffer)
	unsubscribe := s.emitter.SubscribeAll(func(ev events.Event) {
		if filter != nil && !filter[ev.Type] {
			return
		}
		select {
		case out <- ev:
		default:
			s.logger.Warn("client too slow, dropping event", "remote", r.RemoteAddr, "type", ev.Type)
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Reader: only control frames are expected; any read error ends the session.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.logger.Debug("client connected", "remote", r.RemoteAddr)
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			<-readDone
			s.logger.Debug("client disconnected", "remote", r.RemoteAddr)
			return
		case ev := <-out:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal event", "type", ev.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				cancel()
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				cancel()
			}
		}
	}
}

func parseTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.EventType(t)] = true
		}
	}
	return filter
}
