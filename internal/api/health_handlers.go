package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/dirwatch/internal/journal"
	"github.com/listenupapp/dirwatch/internal/sse"
	"github.com/listenupapp/dirwatch/internal/watcher"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"watches": s.checkWatches(),
		"journal": s.checkJournal(ctx),
		"sse":     s.checkSSEManager(),
	}

	overall := "healthy"
	for _, c := range components {
		switch c.Status {
		case "unhealthy":
			overall = "unhealthy"
		case "degraded":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkWatches reports unhealthy when no watch is running and degraded when
// only some are.
func (s *Server) checkWatches() ComponentHealth {
	if s.watches == nil || s.watches.Len() == 0 {
		return ComponentHealth{Status: "degraded", Message: "no watches configured"}
	}

	running := 0
	for _, w := range s.watches.List() {
		if w.State() == watcher.StateRunning {
			running++
		}
	}
	msg := strconv.Itoa(running) + "/" + strconv.Itoa(s.watches.Len()) + " running"

	switch running {
	case s.watches.Len():
		return ComponentHealth{Status: "healthy", Message: msg}
	case 0:
		return ComponentHealth{Status: "unhealthy", Message: msg}
	default:
		return ComponentHealth{Status: "degraded", Message: msg}
	}
}

// checkJournal verifies the journal answers a trivial query.
func (s *Server) checkJournal(ctx context.Context) ComponentHealth {
	if s.journal == nil {
		return ComponentHealth{Status: "degraded", Message: "journal not configured"}
	}

	start := time.Now()
	_, err := s.journal.List(ctx, journal.Query{Limit: 1})
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: "journal read failed",
		}
	}
	return ComponentHealth{Status: "healthy", Latency: latency.String()}
}

// checkSSEManager reports the event stream and its client count.
func (s *Server) checkSSEManager() ComponentHealth {
	if s.sseManager == nil {
		return ComponentHealth{Status: "degraded", Message: "SSE manager not configured"}
	}
	return ComponentHealth{Status: "healthy", Message: formatSSEStatus(s.sseManager.Stats())}
}

func formatSSEStatus(stats sse.Stats) string {
	var msg string
	switch stats.Clients {
	case 0:
		msg = "no connected clients"
	case 1:
		msg = "1 connected client"
	default:
		msg = strconv.Itoa(stats.Clients) + " connected clients"
	}
	if stats.Dropped > 0 {
		msg += ", " + strconv.FormatUint(stats.Dropped, 10) + " events dropped"
	}
	return msg
}
