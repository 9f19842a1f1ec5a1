package daemon

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ozonassist/internal/api"
	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/store"
)

const (
	maxEventWait   = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsBuffer       = 32
)

// handleEvents returns change events after ?since. With ?wait=N (seconds) it
// long-polls until something arrives or the wait expires.
func (s *apiServer) handleEvents(c *gin.Context) {
	var since uint64
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(c, store.Validationf("invalid since %q", raw))
			return
		}
		since = value
	}
	waitSeconds, err := queryInt(c, "wait")
	if err != nil {
		s.fail(c, err)
		return
	}
	wait := min(time.Duration(waitSeconds)*time.Second, maxEventWait)

	ctx := c.Request.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	list, next, err := s.bus.Fetch(ctx, since, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	s.ok(c, api.EventsResponse{Events: list, Next: next})
}

// handleEventsWS streams change events over a websocket until the client goes
// away or the server shuts down.
func (s *apiServer) handleEventsWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log(c).Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(wsBuffer)
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.log(c).Debug("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
