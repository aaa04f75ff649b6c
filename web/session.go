package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/davidoram/sharkd/adapter"
	"github.com/davidoram/sharkd/core"
	"github.com/davidoram/sharkd/view"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

// PostSessionHandler opens a session, the client then posts its events to
// /1/sessions/:id/events and reads pushed messages from /1/sessions/:id/stream
func (hctx HandlerContext) PostSessionHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s := hctx.Gateway.NewSession()
	vs := view.Session{ID: s.ID, CreatedAt: time.Now().In(time.UTC)}
	body, err := json.Marshal(vs)
	if err != nil {
		slog.Error("Error marshalling session", slog.Any("error", err))
		http.Error(w, "Error marshalling session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Location", vs.ResourcePath())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// DeleteSessionHandler closes the session, force unsubscribing all its subscriptions
func (hctx HandlerContext) DeleteSessionHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		http.Error(w, core.ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}
	// Unsubscribe webhooks run even if the client goes away
	err = hctx.Gateway.CloseSession(context.WithoutCancel(r.Context()), id)
	if errors.Is(err, core.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostEventHandler runs one client event and returns the replies it produced as a JSON array
func (hctx HandlerContext) PostEventHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s, ok := hctx.session(w, p)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		slog.Error("Error reading request body", slog.Any("error", err))
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}

	frames := &frameCollector{}
	HandleFrame(r.Context(), s, body, frames.reply)

	out, err := json.Marshal(frames.Frames())
	if err != nil {
		slog.Error("Error marshalling replies", slog.Any("error", err))
		http.Error(w, "Error marshalling replies", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// StreamHandler writes the messages pushed to the session as newline delimited JSON, until
// the session closes or the client disconnects
func (hctx HandlerContext) StreamHandler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s, ok := hctx.session(w, p)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case out, open := <-s.Outbox():
			if !open {
				return
			}
			if err := enc.Encode(adapter.OutboundToFrame(out)); err != nil {
				slog.Info("stream closed", slog.Any("error", err), slog.String("session_id", s.ID.String()))
				return
			}
			flusher.Flush()
		}
	}
}

func (hctx HandlerContext) session(w http.ResponseWriter, p httprouter.Params) (*core.Session, bool) {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		http.Error(w, core.ErrSessionNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	s, err := hctx.Gateway.Session(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return s, true
}

// HandleFrame decodes one client frame and runs it on the session. Every outcome, including
// a frame that cannot be decoded, is reported through reply.
func HandleFrame(ctx context.Context, s *core.Session, frame []byte, reply core.ReplyFunc) {
	var data map[string]any
	if err := json.Unmarshal(frame, &data); err != nil || data == nil {
		reply(ctx, core.Outbound{Status: "error", Error: core.ErrInvalidEvent.Message})
		return
	}
	event, err := core.NewClientEvent(data, reply)
	if err != nil {
		reply(ctx, core.Outbound{Status: "error", Error: core.AsEventError(err).Message})
		return
	}
	if err := s.HandleEvent(ctx, event); err != nil {
		ee := core.AsEventError(err)
		if ee.Kind == core.KindUnhandledException {
			slog.Error("event failed", slog.Any("error", err), slog.String("event", event.Name()), slog.String("session_id", s.ID.String()))
		}
		event.SendError(ctx, err)
	}
}

// frameCollector gathers the replies of one event
type frameCollector struct {
	mu     sync.Mutex
	frames []view.Frame
}

func (c *frameCollector) reply(_ context.Context, out core.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, adapter.OutboundToFrame(out))
	return nil
}

func (c *frameCollector) Frames() []view.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]view.Frame{}, c.frames...)
}
