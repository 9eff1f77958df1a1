package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"hedgepool/services/stabled/journal"
)

const wsWriteTimeout = 10 * time.Second

type eventsResponse struct {
	Events []journal.Record `json:"events"`
	Head   uint64           `json:"head"`
}

func eventFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	f := journal.Filter{Type: q.Get("type"), Asset: q.Get("asset")}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: after: %v", errBadRequest, err)
		}
		f.AfterSeq = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return f, fmt.Errorf("%w: invalid limit", errBadRequest)
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "event journal disabled")
		return
	}
	f, err := eventFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records, err := s.journal.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	head, _ := s.journal.Head()
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: records, Head: head})
}

// handleEventStream replays records after the cursor and then follows the
// journal live over a websocket.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "event journal disabled")
		return
	}
	f, err := eventFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, f); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, f journal.Filter) error {
	// Subscribe first so nothing appended during the replay is missed.
	live, cancel := s.journal.Subscribe()
	defer cancel()

	cursor := f.AfterSeq
	for {
		page := f
		page.AfterSeq = cursor
		page.Limit = 0
		backlog, err := s.journal.List(ctx, page)
		if err != nil {
			return err
		}
		for _, rec := range backlog {
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Seq
		}
		if len(backlog) == 0 {
			break
		}
	}

	asset := strings.ToUpper(strings.TrimSpace(f.Asset))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-live:
			if !ok {
				return nil
			}
			if rec.Seq <= cursor {
				continue
			}
			if (f.Type != "" && rec.Type != f.Type) || (asset != "" && rec.Asset != asset) {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Seq
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec journal.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
