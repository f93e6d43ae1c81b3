package v1

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/transport/http/apierror"
)

const (
	heartbeatInterval = 15 * time.Second
	writeTimeout      = 10 * time.Second
	pongTimeout       = 60 * time.Second
)

// ListEvents returns stored events after a sequence number.
// GET /v1/missions/:mission_id/events?after_seq=0&limit=100
func (h *Handler) ListEvents(c echo.Context) error {
	afterSeq, err := parseSeq(c.QueryParam("after_seq"))
	if err != nil {
		return apierror.BadRequest(c, "after_seq must be a non-negative integer")
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
			return apierror.BadRequest(c, "limit must be a non-negative integer")
		}
	}

	resp, err := h.service.ListEvents(c.Request().Context(), c.Param("mission_id"), afterSeq, limit)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// StreamEvents streams mission events via SSE. Replay starts after the
// Last-Event-ID header, or after_seq when the header is absent. The stream
// ends once the mission is terminal.
// GET /v1/missions/:mission_id/events/stream
func (h *Handler) StreamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	missionID := c.Param("mission_id")

	cursor := c.Request().Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = c.QueryParam("after_seq")
	}
	afterSeq, err := parseSeq(cursor)
	if err != nil {
		return apierror.BadRequest(c, "invalid event cursor")
	}

	sub, err := h.service.Subscribe(ctx, missionID, afterSeq)
	if err != nil {
		return apierror.Respond(c, err)
	}
	defer sub.Close()

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(c, event); err != nil {
				slog.Debug("sse write failed", "mission_id", missionID, "error", err)
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

// writeSSEEvent writes one event. Truncated markers carry no id so the
// client's Last-Event-ID keeps pointing at the last delivered event.
func writeSSEEvent(c echo.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	w := c.Response()
	if event.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// WatchEvents streams mission events over a WebSocket, one JSON event per
// text message. The server closes the socket once the mission is terminal.
// GET /v1/missions/:mission_id/ws?after_seq=0
func (h *Handler) WatchEvents(c echo.Context) error {
	missionID := c.Param("mission_id")
	afterSeq, err := parseSeq(c.QueryParam("after_seq"))
	if err != nil {
		return apierror.BadRequest(c, "after_seq must be a non-negative integer")
	}

	ctx := c.Request().Context()
	if _, err := h.service.GetMissionStatus(ctx, missionID); err != nil {
		return apierror.Respond(c, err)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("failed to upgrade websocket", "mission_id", missionID, "error", err)
		return nil
	}
	defer ws.Close()

	sub, err := h.service.Subscribe(ctx, missionID, afterSeq)
	if err != nil {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return nil
	}
	defer sub.Close()

	// The read side only handles pongs and notices the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return nil
		case event, ok := <-sub.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "mission finished"))
				return nil
			}
			if err := ws.WriteJSON(event); err != nil {
				return nil
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func parseSeq(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid sequence %q", s)
	}
	return seq, nil
}
