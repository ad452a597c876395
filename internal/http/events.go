package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/processd/internal/events"
	"github.com/fyrsmithlabs/processd/internal/logging"
)

// heartbeatInterval keeps idle streams open through proxies.
var heartbeatInterval = 30 * time.Second

// handleEvents streams run events as Server-Sent Events.
//
//	GET /api/v1/events?tenant=acme&run_id=...
//
//	event: progress
//	data: {"kind":"progress","run_id":"...","percentage":33,...}
//
// With run_id the stream ends after the run's final event. Without it every
// run of the tenant is streamed until the client disconnects. The tenant
// parameter may be omitted for runs without a tenant.
func (s *Server) handleEvents(c echo.Context) error {
	tenant := c.QueryParam("tenant")
	runID := c.QueryParam("run_id")
	if tenant != "" {
		if err := logging.ValidateID(tenant, "tenant"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if runID != "" {
		if err := logging.ValidateID(runID, "run_id"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := s.nats.ChanSubscribe(events.Filter(s.prefix, tenant, runID), msgs)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			kind := events.Kind(msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:])
			fmt.Fprintf(w, "event: %s\n", kind)
			fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			w.Flush()
			if runID != "" && kind.Final() {
				return nil
			}
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			w.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
