package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/KobraKid/bestiary-sub000/pkg/templating"
)

const writeWait = 10 * time.Second

// streamMessage is one frame of the group stream. Type is "page", "entry",
// "done" or "error".
type streamMessage struct {
	Type  string                    `json:"type"`
	Page  *templating.PageInfo      `json:"page,omitempty"`
	Entry *templating.RenderedEntry `json:"entry,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// handleStream upgrades to a websocket and pushes rendered entries of a group
// as they complete. page=all streams every page in order. The stream stops
// as soon as the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "package")
	group := chi.URLParam(r, "group")
	q := r.URL.Query()
	view := templating.ParseView(q.Get("view"))
	lang := q.Get("lang")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	coord := s.tm.NewCoordinator()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any read, including the close frame, ends the stream.
	go func() {
		_, _, _ = conn.Read(ctx)
		coord.Cancel()
		cancel()
	}()

	var (
		info    templating.PageInfo
		entries <-chan templating.RenderedEntry
	)
	if p := q.Get("page"); p == "all" {
		info, entries, err = coord.RenderAll(ctx, pkg, group, view, lang)
	} else {
		page, _ := strconv.Atoi(p)
		info, entries, err = coord.RenderPage(ctx, pkg, group, page, view, lang)
	}
	if err != nil {
		s.logger.Error("Failed to start stream", "package", pkg, "group", group, "error", err)
		_ = s.send(ctx, conn, streamMessage{Type: "error", Error: "failed to load group"})
		conn.Close(websocket.StatusInternalError, "")
		return
	}

	if err = s.send(ctx, conn, streamMessage{Type: "page", Page: &info}); err != nil {
		return
	}
	sent := 0
	for re := range entries {
		if err = s.send(ctx, conn, streamMessage{Type: "entry", Entry: &re}); err != nil {
			coord.Cancel()
			// drain so the producer can exit
			for range entries {
			}
			return
		}
		sent++
	}
	if coord.Cancelled() || ctx.Err() != nil {
		return
	}
	_ = s.send(ctx, conn, streamMessage{Type: "done"})
	s.logger.Debug("Stream complete", "package", pkg, "group", group, "entries", sent)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
