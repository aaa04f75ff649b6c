package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/davidoram/sharkd/adapter"
	"github.com/davidoram/sharkd/core"
	"github.com/julienschmidt/httprouter"
)

// WebsocketHandler serves one session per websocket connection. Client events are read as
// text frames and run in order, replies and pushed messages are written as JSON text frames.
// The session is closed when the connection ends.
func (hctx HandlerContext) WebsocketHandler(originPatterns []string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			slog.Info("websocket accept failed", slog.Any("error", err))
			return
		}
		defer c.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := hctx.Gateway.NewSession()
		defer hctx.Gateway.CloseSession(context.WithoutCancel(ctx), s.ID)

		reply := func(ctx context.Context, out core.Outbound) error {
			return wsjson.Write(ctx, c, adapter.OutboundToFrame(out))
		}

		// Writer, forwards the messages pushed to the session
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case out, open := <-s.Outbox():
					if !open {
						return
					}
					if err := reply(ctx, out); err != nil {
						return
					}
				}
			}
		}()

		for {
			typ, frame, err := c.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					slog.Info("websocket read failed", slog.Any("error", err), slog.String("session_id", s.ID.String()))
				}
				return
			}
			if typ != websocket.MessageText {
				reply(ctx, core.Outbound{Status: "error", Error: core.ErrInvalidEvent.Message})
				continue
			}
			HandleFrame(ctx, s, frame, reply)
		}
	}
}
