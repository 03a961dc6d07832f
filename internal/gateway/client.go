// Package gateway is the reader's HTTP/JSON client for the folio backend. It performs
// one attempt per call; callers decide what a failure means.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 15 * time.Second

	opLoadAll       = "gateway.load_all"
	opCreate        = "gateway.create"
	opUpdate        = "gateway.update"
	opDelete        = "gateway.delete"
	opFetchProgress = "gateway.fetch_progress"
	opStoreProgress = "gateway.store_progress"
	opOpenSession   = "gateway.open_session"
	opUpdateSession = "gateway.update_session"
)

var (
	// ErrMissingBaseURL indicates the backend location was not configured.
	ErrMissingBaseURL = errors.New("gateway: backend url required")
	// ErrMissingIdentity indicates a per-user call without a user identity.
	ErrMissingIdentity = errors.New("gateway: user identity required")
	// ErrMissingDurableID indicates an update or delete without a durable identifier.
	ErrMissingDurableID = errors.New("gateway: durable id required")
)

// HTTPError is returned for any non-success response.
type HTTPError struct {
	Operation string
	Status    int
	Code      string
}

func (e *HTTPError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: status %d (%s)", e.Operation, e.Status, e.Code)
}

// Config describes how to reach the backend.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client implements the persistence operations against the backend API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates the configuration and constructs a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse backend url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type annotationListPayload struct {
	Annotations []annotations.Annotation `json:"annotations"`
}

type openSessionPayload struct {
	DeviceClass string `json:"device_class"`
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// LoadAll returns every stored annotation of the document, ordered by page then creation.
func (c *Client) LoadAll(ctx context.Context, documentKey string) ([]annotations.Annotation, error) {
	var payload annotationListPayload
	if _, err := c.do(ctx, opLoadAll, http.MethodGet, documentPath(documentKey, "annotations"), nil, &payload); err != nil {
		return nil, err
	}
	return payload.Annotations, nil
}

// Create stores a new annotation and returns the snapshot carrying its durable id.
func (c *Client) Create(ctx context.Context, documentKey string, annotation annotations.Annotation) (annotations.Annotation, error) {
	annotation.ID = ""
	var created annotations.Annotation
	if _, err := c.do(ctx, opCreate, http.MethodPost, documentPath(documentKey, "annotations"), annotation, &created); err != nil {
		return annotations.Annotation{}, err
	}
	return created, nil
}

// Update overwrites the patched properties of a stored annotation.
func (c *Client) Update(ctx context.Context, durableID string, patch annotations.Patch) error {
	if strings.TrimSpace(durableID) == "" {
		return ErrMissingDurableID
	}
	_, err := c.do(ctx, opUpdate, http.MethodPatch, "/annotations/"+url.PathEscape(durableID), patch, nil)
	return err
}

// Delete removes a stored annotation; an unknown id is not an error.
func (c *Client) Delete(ctx context.Context, durableID string) error {
	if strings.TrimSpace(durableID) == "" {
		return ErrMissingDurableID
	}
	_, err := c.do(ctx, opDelete, http.MethodDelete, "/annotations/"+url.PathEscape(durableID), nil, nil, http.StatusNotFound)
	return err
}

// FetchProgress returns the remote position of the user; found is false when none exists.
func (c *Client) FetchProgress(ctx context.Context, documentKey, userID string) (reading.Progress, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return reading.Progress{}, false, ErrMissingIdentity
	}
	var progress reading.Progress
	status, err := c.do(ctx, opFetchProgress, http.MethodGet, documentPath(documentKey, "progress"), nil, &progress, http.StatusNotFound)
	if err != nil {
		return reading.Progress{}, false, err
	}
	if status == http.StatusNotFound {
		return reading.Progress{}, false, nil
	}
	return progress, true, nil
}

// StoreProgress overwrites the remote position of the user.
func (c *Client) StoreProgress(ctx context.Context, documentKey string, progress reading.Progress) error {
	_, err := c.do(ctx, opStoreProgress, http.MethodPut, documentPath(documentKey, "progress"), progress, nil)
	return err
}

// OpenSession records a new reading session and returns its identifier.
func (c *Client) OpenSession(ctx context.Context, documentKey string, deviceClass reading.DeviceClass) (string, error) {
	var session reading.Session
	request := openSessionPayload{DeviceClass: string(deviceClass)}
	if _, err := c.do(ctx, opOpenSession, http.MethodPost, documentPath(documentKey, "sessions"), request, &session); err != nil {
		return "", err
	}
	if session.SessionID == "" {
		return "", &HTTPError{Operation: opOpenSession, Status: http.StatusOK, Code: "missing_session_id"}
	}
	return session.SessionID, nil
}

// UpdateSession flushes the counters of an open session.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, counters reading.SessionCounters) error {
	_, err := c.do(ctx, opUpdateSession, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), counters, nil)
	return err
}

func documentPath(documentKey, resource string) string {
	return "/documents/" + url.PathEscape(documentKey) + "/" + resource
}

// do performs one request. Statuses listed in tolerated are returned without error and
// without decoding the body.
func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any, tolerated ...int) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", operation, err)
	}
	defer response.Body.Close()

	for _, status := range tolerated {
		if response.StatusCode == status {
			_, _ = io.Copy(io.Discard, response.Body)
			return response.StatusCode, nil
		}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		httpErr := &HTTPError{Operation: operation, Status: response.StatusCode}
		var payload errorPayload
		if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr == nil {
			httpErr.Code = payload.Error
			if payload.Code != "" {
				httpErr.Code = payload.Code
			}
		}
		c.logger.Debug("backend request rejected",
			zap.String("operation", operation),
			zap.Int("status", response.StatusCode),
			zap.String("code", httpErr.Code))
		return response.StatusCode, httpErr
	}

	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return response.StatusCode, nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return response.StatusCode, fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return response.StatusCode, nil
}
