package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/watchset"
)

func (s *Server) registerWatchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listWatches",
		Method:      http.MethodGet,
		Path:        "/api/v1/watches",
		Summary:     "List watches",
		Description: "Returns every configured watch with its state and statistics",
		Tags:        []string{"Watches"},
	}, s.handleListWatches)

	huma.Register(s.api, huma.Operation{
		OperationID: "getWatch",
		Method:      http.MethodGet,
		Path:        "/api/v1/watches/{id}",
		Summary:     "Get watch",
		Description: "Returns a watch by name or watch ID",
		Tags:        []string{"Watches"},
	}, s.handleGetWatch)

	huma.Register(s.api, huma.Operation{
		OperationID:   "rescanWatch",
		Method:        http.MethodPost,
		Path:          "/api/v1/watches/{id}/rescan",
		Summary:       "Rescan watch",
		Description:   "Requests an immediate full scan and diff of a running watch",
		Tags:          []string{"Watches"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleRescanWatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "startWatch",
		Method:      http.MethodPost,
		Path:        "/api/v1/watches/{id}/start",
		Summary:     "Start watch",
		Description: "Starts an idle watch, taking a fresh baseline",
		Tags:        []string{"Watches"},
	}, s.handleStartWatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "stopWatch",
		Method:      http.MethodPost,
		Path:        "/api/v1/watches/{id}/stop",
		Summary:     "Stop watch",
		Description: "Stops a watch; stopping an idle watch is a no-op",
		Tags:        []string{"Watches"},
	}, s.handleStopWatch)
}

// WatchStats mirrors watcher.Stats for API responses.
type WatchStats struct {
	LastCycle        *time.Time `json:"last_cycle,omitempty" doc:"When the last cycle completed"`
	Cycles           uint64     `json:"cycles" doc:"Completed detection cycles"`
	Records          uint64     `json:"records" doc:"Change records delivered"`
	CallbackFailures uint64     `json:"callback_failures" doc:"Records whose delivery failed"`
	ScanErrors       uint64     `json:"scan_errors" doc:"Cycles that failed to scan"`
	Entries          int        `json:"entries" doc:"Entries in the current baseline"`
}

// WatchResponse describes one watch.
type WatchResponse struct {
	ID        string     `json:"id" doc:"Watch session ID"`
	Name      string     `json:"name" doc:"Configured watch name"`
	Root      string     `json:"root" doc:"Watched directory"`
	State     string     `json:"state" doc:"idle, running or stopping" enum:"idle,running,stopping"`
	Mode      string     `json:"mode" doc:"Effective detection mode" enum:"poll,native"`
	Backend   string     `json:"backend,omitempty" doc:"Native backend in use"`
	Recursive bool       `json:"recursive" doc:"Whether subdirectories are watched"`
	Stats     WatchStats `json:"stats"`
}

func newWatchResponse(w *watchset.Watch) WatchResponse {
	stats := w.Stats()
	resp := WatchResponse{
		ID:        w.ID(),
		Name:      w.Name,
		Root:      w.Root().String(),
		State:     w.State().String(),
		Mode:      stats.Mode.String(),
		Backend:   stats.Backend,
		Recursive: w.Options().Recursive,
		Stats: WatchStats{
			Cycles:           stats.Cycles,
			Records:          stats.Records,
			CallbackFailures: stats.CallbackFailures,
			ScanErrors:       stats.ScanErrors,
			Entries:          stats.Entries,
		},
	}
	if !stats.LastCycle.IsZero() {
		resp.Stats.LastCycle = &stats.LastCycle
	}
	return resp
}

// ListWatchesResponse contains all watches.
type ListWatchesResponse struct {
	Watches []WatchResponse `json:"watches"`
}

// ListWatchesOutput wraps the list response for Huma.
type ListWatchesOutput struct {
	Body ListWatchesResponse
}

// WatchIDInput selects a watch by name or ID.
type WatchIDInput struct {
	ID string `path:"id" doc:"Watch name or watch ID"`
}

// WatchOutput wraps a single watch for Huma.
type WatchOutput struct {
	Body WatchResponse
}

func (s *Server) handleListWatches(_ context.Context, _ *struct{}) (*ListWatchesOutput, error) {
	out := ListWatchesResponse{Watches: make([]WatchResponse, 0)}
	if s.watches != nil {
		for _, w := range s.watches.List() {
			out.Watches = append(out.Watches, newWatchResponse(w))
		}
	}
	return &ListWatchesOutput{Body: out}, nil
}

func (s *Server) lookup(id string) (*watchset.Watch, error) {
	if s.watches == nil {
		return nil, toAPIError(errors.NotFoundf("watch %q not found", id))
	}
	w, err := s.watches.Get(id)
	if err != nil {
		return nil, toAPIError(err)
	}
	return w, nil
}

func (s *Server) handleGetWatch(_ context.Context, input *WatchIDInput) (*WatchOutput, error) {
	w, err := s.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	return &WatchOutput{Body: newWatchResponse(w)}, nil
}

func (s *Server) handleRescanWatch(_ context.Context, input *WatchIDInput) (*WatchOutput, error) {
	w, err := s.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	if err := w.Rescan(); err != nil {
		return nil, toAPIError(err)
	}
	s.logger.Info("rescan requested", "watch", w.Name)
	return &WatchOutput{Body: newWatchResponse(w)}, nil
}

func (s *Server) handleStartWatch(ctx context.Context, input *WatchIDInput) (*WatchOutput, error) {
	w, err := s.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, toAPIError(err)
	}
	return &WatchOutput{Body: newWatchResponse(w)}, nil
}

func (s *Server) handleStopWatch(_ context.Context, input *WatchIDInput) (*WatchOutput, error) {
	w, err := s.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	if err := w.Stop(); err != nil {
		return nil, toAPIError(err)
	}
	return &WatchOutput{Body: newWatchResponse(w)}, nil
}
