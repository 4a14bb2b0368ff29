package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"daopresale/core/events"
)

const wsWriteTimeout = 10 * time.Second

// WithEventStream serves GET /v1/events from the supplied broadcaster. The
// broadcaster must also be installed as an emitter on the engine.
func WithEventStream(stream *events.Broadcaster) Option {
	return func(s *Server) { s.stream = stream }
}

// handleEvents upgrades to a websocket and streams ledger events. cursor
// resumes after a previously seen event; types is a comma separated list of
// event types or dotted prefixes such as presale.affiliate.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, cursor, filter)
	switch {
	case errors.Is(err, errStreamClosed):
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		s.logger.Warn("event stream failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

var errStreamClosed = errors.New("event stream closed")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, filter []string) error {
	updates, cancel, backlog := s.stream.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if !matchesType(filter, update.Type) {
			continue
		}
		if err := writeUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errStreamClosed
			}
			if !matchesType(filter, update.Type) {
				continue
			}
			if err := writeUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update events.StreamUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseTypeFilter(raw string) []string {
	var filter []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			filter = append(filter, strings.TrimSuffix(trimmed, "."))
		}
	}
	return filter
}

func matchesType(filter []string, eventType string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, entry := range filter {
		if eventType == entry || strings.HasPrefix(eventType, entry+".") {
			return true
		}
	}
	return false
}
