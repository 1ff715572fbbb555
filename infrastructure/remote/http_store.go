// Package remote provides the remote-store implementations: an HTTP JSON
// client for the real backend and an in-memory store for tests and the
// dev server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"synccore/application/ports"
	"synccore/domain/core/entities"
	pkgerrors "synccore/pkg/errors"
)

// HTTPStore implements ports.RemoteStore over a JSON HTTP API
type HTTPStore struct {
	baseURL          string
	client           *http.Client
	logger           *zap.Logger
	keepaliveTimeout time.Duration
}

// NewHTTPStore creates an HTTP remote store against the given base URL
func NewHTTPStore(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL:          baseURL,
		client:           &http.Client{Timeout: timeout},
		logger:           logger,
		keepaliveTimeout: 2 * time.Second,
	}
}

// nodeUpdateRequest is the wire shape of a partial node update
type nodeUpdateRequest struct {
	Label       *string                `json:"label,omitempty"`
	Content     *string                `json:"content,omitempty"`
	MetaUpdates map[string]interface{} `json:"meta_updates,omitempty"`
}

// edgeRequest is the wire shape of an edge mutation
type edgeRequest struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// FetchGraph retrieves the full graph for a project
func (s *HTTPStore) FetchGraph(ctx context.Context, projectID string) (*ports.GraphPayload, error) {
	var payload ports.GraphPayload
	path := "/projects/" + url.PathEscape(projectID) + "/graph"
	if err := s.do(ctx, http.MethodGet, path, nil, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// UpdateNode persists only the changed fields of a node
func (s *HTTPStore) UpdateNode(ctx context.Context, id string, change entities.NodeChange, opts ports.RequestOptions) error {
	ctx, cancel := s.requestContext(ctx, opts)
	defer cancel()

	body := nodeUpdateRequest{
		Label:       change.Label,
		Content:     change.Content,
		MetaUpdates: change.MetaUpdates,
	}
	path := "/nodes/" + url.PathEscape(id)
	return s.do(ctx, http.MethodPatch, path, projectQuery(opts), body, nil)
}

// CreateEdge persists a new edge
func (s *HTTPStore) CreateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	ctx, cancel := s.requestContext(ctx, opts)
	defer cancel()
	return s.do(ctx, http.MethodPost, "/edges", projectQuery(opts), edgeBody(edge), nil)
}

// DeleteEdge removes an edge by its endpoints and type
func (s *HTTPStore) DeleteEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	ctx, cancel := s.requestContext(ctx, opts)
	defer cancel()
	return s.do(ctx, http.MethodDelete, "/edges", projectQuery(opts), edgeBody(edge), nil)
}

// UpdateEdge replaces the props of an existing edge
func (s *HTTPStore) UpdateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	ctx, cancel := s.requestContext(ctx, opts)
	defer cancel()
	return s.do(ctx, http.MethodPatch, "/edges", projectQuery(opts), edgeBody(edge), nil)
}

// FetchWorkingMemoryContext hydrates session/message/history state
func (s *HTTPStore) FetchWorkingMemoryContext(ctx context.Context, q ports.ContextQuery) (*ports.ContextPayload, error) {
	var payload ports.ContextPayload
	if err := s.do(ctx, http.MethodPost, "/working-memory/context", nil, q, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PatchWorkingMemory persists a single working-memory field
func (s *HTTPStore) PatchWorkingMemory(ctx context.Context, part string, patch ports.MemoryPatch) error {
	path := "/working-memory/" + url.PathEscape(part)
	return s.do(ctx, http.MethodPatch, path, nil, patch, nil)
}

// requestContext shortens the deadline for keepalive (page hide) calls so
// they stay best-effort instead of holding up unload.
func (s *HTTPStore) requestContext(ctx context.Context, opts ports.RequestOptions) (context.Context, context.CancelFunc) {
	if opts.Keepalive {
		return context.WithTimeout(ctx, s.keepaliveTimeout)
	}
	return context.WithCancel(ctx)
}

func projectQuery(opts ports.RequestOptions) url.Values {
	if opts.ProjectID == "" {
		return nil
	}
	q := url.Values{}
	q.Set("project_id", opts.ProjectID)
	return q
}

func edgeBody(edge *entities.Edge) edgeRequest {
	return edgeRequest{From: edge.From, To: edge.To, Type: edge.Type, Props: edge.Props}
}

// do issues one JSON request and decodes the response into out when given
func (s *HTTPStore) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return pkgerrors.NewCanceledError(method + " " + path)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return pkgerrors.NewTimeoutError(method + " " + path)
		}
		return pkgerrors.NewNetworkError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Debug("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return pkgerrors.NewRemoteError(method+" "+path, resp.StatusCode, fmt.Errorf("%s", string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pkgerrors.Wrap(err, "decode response body")
		}
	}
	return nil
}
