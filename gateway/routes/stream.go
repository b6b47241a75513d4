package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"janus/core/types"
	"janus/crypto"
	"janus/services/journal"
)

// partyAttributes are the event attributes that name an involved account.
var partyAttributes = []string{"buyer", "seller", "account", "to", "from"}

// streamMessage is one frame on the event stream. Sequence is zero when the
// server runs without a journal.
type streamMessage struct {
	Sequence   uint64            `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// streamFilter decides which events a subscriber may observe.
type streamFilter struct {
	arbiter bool
	address string
}

func (f streamFilter) allows(attrs map[string]string) bool {
	if f.arbiter {
		return true
	}
	for _, key := range partyAttributes {
		if attrs[key] == f.address {
			return true
		}
	}
	return false
}

func (s *server) streamEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if s.feed == nil {
		writeJSONError(w, http.StatusNotImplemented, "stream_disabled", errors.New("event feed is not configured"))
		return
	}
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	filter := streamFilter{
		arbiter: s.requireArbiter(caller) == nil,
		address: crypto.FormatAddress(caller),
	}
	// Named consumers resume from their stored journal cursor. Names are
	// scoped to the caller so one party cannot move another's position.
	var cursorName string
	if consumer := strings.TrimSpace(r.URL.Query().Get("consumer")); consumer != "" {
		if s.journal == nil {
			writeJSONError(w, http.StatusNotImplemented, "journal_disabled", errors.New("named consumers require the journal"))
			return
		}
		cursorName = filter.address + "/" + consumer
		if after == 0 {
			if after, err = s.journal.Cursor(r.Context(), cursorName); err != nil {
				s.logger.Error("load stream cursor", "consumer", cursorName, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
				return
			}
		}
	}

	// Subscribe before draining the backlog so nothing committed in between is missed.
	sub := s.feed.Subscribe(s.stream.Buffer)
	defer sub.Unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if s.journal != nil {
		err = s.streamJournal(ctx, conn, sub.C(), filter, after, cursorName)
	} else {
		err = s.streamFeed(ctx, conn, sub.C(), filter)
	}
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		s.logger.Warn("event stream closed", "caller", filter.address, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

// streamJournal replays committed entries after the cursor and then uses feed
// deliveries as a signal to drain newly appended entries.
func (s *server) streamJournal(ctx context.Context, conn *websocket.Conn, wake <-chan *types.Event, filter streamFilter, after uint64, cursorName string) error {
	if s.stream.Backlog > 0 && cursorName == "" {
		if head, _ := s.journal.Head(); head > uint64(s.stream.Backlog) && after < head-uint64(s.stream.Backlog) {
			after = head - uint64(s.stream.Backlog)
		}
	}
	cursor, err := s.drainJournal(ctx, conn, filter, after, cursorName)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-wake:
			if !ok {
				return nil
			}
			if cursor, err = s.drainJournal(ctx, conn, filter, cursor, cursorName); err != nil {
				return err
			}
		}
	}
}

// drainJournal writes every visible entry after cursor and returns the last
// sequence handled. The cursor only advances past frames that were written.
func (s *server) drainJournal(ctx context.Context, conn *websocket.Conn, filter streamFilter, cursor uint64, cursorName string) (uint64, error) {
	start := cursor
	defer func() {
		if cursorName == "" || cursor == start {
			return
		}
		if err := s.journal.SaveCursor(context.WithoutCancel(ctx), cursorName, cursor); err != nil {
			s.logger.Warn("save stream cursor", "consumer", cursorName, "sequence", cursor, "error", err)
		}
	}()
	for {
		entries, err := s.journal.List(ctx, cursor, journal.MaxListLimit)
		if err != nil {
			return cursor, err
		}
		for _, entry := range entries {
			if filter.allows(entry.Attributes) {
				msg := streamMessage{
					Sequence:   entry.Sequence,
					Type:       entry.Type,
					Attributes: entry.Attributes,
					Timestamp:  entry.Timestamp,
				}
				if err := s.writeFrame(ctx, conn, msg); err != nil {
					return cursor, err
				}
			}
			cursor = entry.Sequence
		}
		if len(entries) < journal.MaxListLimit {
			return cursor, nil
		}
	}
}

func (s *server) streamFeed(ctx context.Context, conn *websocket.Conn, feed <-chan *types.Event, filter streamFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-feed:
			if !ok {
				return nil
			}
			if !filter.allows(evt.Attributes) {
				continue
			}
			msg := streamMessage{Type: evt.Type, Attributes: evt.Attributes, Timestamp: time.Now().Unix()}
			if err := s.writeFrame(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func (s *server) writeFrame(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.stream.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
