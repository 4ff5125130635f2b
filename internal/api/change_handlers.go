package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/journal"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

func (s *Server) registerChangeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listChanges",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes",
		Summary:     "List changes",
		Description: "Returns journaled change records in delivery order. Page with the next_after cursor.",
		Tags:        []string{"Changes"},
	}, s.handleListChanges)
}

// ListChangesInput holds the journal query parameters.
type ListChangesInput struct {
	Watch string `query:"watch" doc:"Only changes from this watch name"`
	Since string `query:"since" doc:"Only changes observed at or after this RFC 3339 time"`
	Kind  string `query:"kind" doc:"Only changes of this kind: created, modified or deleted"`
	After int64  `query:"after" minimum:"0" doc:"Only changes with an ID greater than this cursor"`
	Limit int    `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum number of changes (default 100)"`
}

// ChangeResponse is one journaled change.
type ChangeResponse struct {
	ObservedAt time.Time `json:"observed_at" doc:"When the change was detected"`
	ID         int64     `json:"id" doc:"Journal sequence number"`
	Watch      string    `json:"watch" doc:"Watch name"`
	Path       string    `json:"path" doc:"Absolute path of the changed entry"`
	Kind       string    `json:"kind" doc:"created, modified or deleted"`
}

// ListChangesResponse contains a page of changes.
type ListChangesResponse struct {
	Changes   []ChangeResponse `json:"changes"`
	NextAfter int64            `json:"next_after,omitempty" doc:"Cursor for the next page; absent on the last page"`
}

// ListChangesOutput wraps the list response for Huma.
type ListChangesOutput struct {
	Body ListChangesResponse
}

func (s *Server) handleListChanges(ctx context.Context, input *ListChangesInput) (*ListChangesOutput, error) {
	if s.journal == nil {
		return nil, toAPIError(errors.NotFoundf("change journal is not configured"))
	}

	q := journal.Query{
		Watch:   input.Watch,
		AfterID: input.After,
		Limit:   input.Limit,
	}
	if input.Since != "" {
		since, err := time.Parse(time.RFC3339Nano, input.Since)
		if err != nil {
			return nil, toAPIError(errors.Validation("since must be an RFC 3339 time").
				WithDetails(map[string]string{"since": input.Since}))
		}
		q.Since = since
	}
	if input.Kind != "" {
		kind, err := snapshot.ParseChangeKind(input.Kind)
		if err != nil {
			return nil, toAPIError(errors.Validation("kind must be created, modified or deleted").
				WithDetails(map[string]string{"kind": input.Kind}))
		}
		q.Kind = kind
	}

	entries, err := s.journal.List(ctx, q)
	if err != nil {
		return nil, toAPIError(err)
	}

	out := ListChangesResponse{Changes: make([]ChangeResponse, 0, len(entries))}
	for _, e := range entries {
		out.Changes = append(out.Changes, ChangeResponse{
			ObservedAt: e.ObservedAt,
			ID:         e.ID,
			Watch:      e.Watch,
			Path:       e.Path,
			Kind:       e.Kind.String(),
		})
	}

	limit := q.Limit
	if limit == 0 {
		limit = journal.DefaultLimit
	}
	if len(entries) == limit {
		out.NextAfter = entries[len(entries)-1].ID
	}
	return &ListChangesOutput{Body: out}, nil
}
