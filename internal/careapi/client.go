// Package careapi is the client for the remote caregiver schedule API.
//
// Every response shape the backend produces is normalized here, so nothing
// past this package sees raw records.
package careapi

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
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/careviah/caregiver/internal/auth"
	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
)

// DefaultBaseURL is the production care API.
const DefaultBaseURL = "https://care-giver.devsinkenya.com"

// UpstreamName identifies the care API in the resilience registry.
const UpstreamName = "care-api"

// API paths.
const (
	pathSchedules          = "/api/user/schedules"
	pathSchedulesToday     = "/api/user/schedules/today"
	pathSchedulesUpcoming  = "/api/user/schedules/upcoming"
	pathSchedulesMissed    = "/api/user/schedules/missed"
	pathSchedulesCompleted = "/api/user/schedules/completed/today"
	pathTasks              = "/tasks"
	pathStatus             = "/status"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 4 << 20

// Client errors.
var (
	ErrUnauthorized = errors.New("care api rejected the access token")
	ErrUnavailable  = errors.New("care api unavailable")
	ErrUnknownShape = errors.New("unrecognized schedule list shape")
)

// StatusError is a non-2xx response from the care API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("care api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("care api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// ClientConfig holds configuration for the care API client.
type ClientConfig struct {
	// BaseURL of the care API (default: DefaultBaseURL).
	BaseURL string

	// Tokens supplies the bearer token. Required for schedule calls.
	Tokens auth.TokenSource

	// HTTPClient performs requests (default: a resilience client named
	// UpstreamName).
	HTTPClient *resilience.Client

	// Location interprets timestamps without an offset (default: time.Local).
	Location *time.Location

	// Now is the time source for token expiry checks (default: time.Now).
	Now func() time.Time

	// Logger for API calls.
	Logger zerolog.Logger
}

var (
	_ schedule.API     = (*Client)(nil)
	_ schedule.Fetcher = (*Client)(nil)
)

// Client talks to the care API.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *resilience.Client
	location   *time.Location
	now        func() time.Time
	logger     zerolog.Logger

	warnMu      sync.Mutex
	warnedToken string
}

// NewClient creates a care API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = resilience.NewClient(resilience.DefaultClientConfig(UpstreamName))
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
		location:   cfg.Location,
		now:        cfg.Now,
		logger:     cfg.Logger.With().Str("upstream", UpstreamName).Logger(),
	}
}

// ListAll returns every schedule of the caregiver.
func (c *Client) ListAll(ctx context.Context) ([]schedule.Visit, error) {
	return c.list(ctx, pathSchedules)
}

// ListToday returns today's schedules.
func (c *Client) ListToday(ctx context.Context) ([]schedule.Visit, error) {
	return c.list(ctx, pathSchedulesToday)
}

// ListUpcoming returns upcoming schedules.
func (c *Client) ListUpcoming(ctx context.Context) ([]schedule.Visit, error) {
	return c.list(ctx, pathSchedulesUpcoming)
}

// ListMissed returns missed schedules.
func (c *Client) ListMissed(ctx context.Context) ([]schedule.Visit, error) {
	return c.list(ctx, pathSchedulesMissed)
}

// ListCompletedToday returns schedules completed today.
func (c *Client) ListCompletedToday(ctx context.Context) ([]schedule.Visit, error) {
	return c.list(ctx, pathSchedulesCompleted)
}

// FetchVisits loads the four dashboard lists concurrently and merges them,
// keeping the first copy of a visit in the order today, upcoming, missed,
// completed. Any failing list fails the whole fetch so a partial set never
// replaces a complete one.
func (c *Client) FetchVisits(ctx context.Context) ([]schedule.Visit, error) {
	paths := []string{
		pathSchedulesToday,
		pathSchedulesUpcoming,
		pathSchedulesMissed,
		pathSchedulesCompleted,
	}
	lists := make([][]schedule.Visit, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			visits, err := c.list(gctx, path)
			if err != nil {
				return err
			}
			lists[i] = visits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeVisits(lists...), nil
}

// GetVisit returns one schedule by id.
func (c *Client) GetVisit(ctx context.Context, id string) (schedule.Visit, error) {
	body, err := c.do(ctx, http.MethodGet, pathSchedules+"/"+url.PathEscape(id), nil, true)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return schedule.Visit{}, fmt.Errorf("%w: %s", schedule.ErrVisitNotFound, id)
		}
		return schedule.Visit{}, err
	}

	// The detail endpoint has been seen both bare and wrapped.
	var wrapped struct {
		Schedule *visitRecord `json:"schedule"`
	}
	var record visitRecord
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Schedule != nil {
		record = *wrapped.Schedule
	} else if err := json.Unmarshal(body, &record); err != nil {
		return schedule.Visit{}, fmt.Errorf("decoding schedule %s: %w", id, err)
	}

	v, err := toVisit(record, c.location, c.logger)
	if err != nil {
		return schedule.Visit{}, err
	}
	if len(v.Tasks) == 0 {
		c.logger.Warn().Str("visit_id", v.ID).Msg("schedule has no tasks")
	}
	return v, nil
}

// StartVisit clocks a visit in at pos.
func (c *Client) StartVisit(ctx context.Context, visitID string, pos geolocation.Position) error {
	path := pathSchedules + "/" + url.PathEscape(visitID) + "/start"
	return c.mutate(ctx, http.MethodPost, path, locationRequest{Latitude: pos.Latitude, Longitude: pos.Longitude})
}

// EndVisit clocks a visit out at pos.
func (c *Client) EndVisit(ctx context.Context, visitID string, pos geolocation.Position) error {
	path := pathSchedules + "/" + url.PathEscape(visitID) + "/end"
	return c.mutate(ctx, http.MethodPost, path, locationRequest{Latitude: pos.Latitude, Longitude: pos.Longitude})
}

// UpdateTaskStatus records a task's completion.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID string, update schedule.TaskUpdate) error {
	path := pathTasks + "/" + url.PathEscape(taskID) + "/update"
	return c.mutate(ctx, http.MethodPost, path, update)
}

// UpdateVisitStatus sets a visit's status directly. Only the force-complete
// path uses it.
func (c *Client) UpdateVisitStatus(ctx context.Context, visitID string, status schedule.ServerStatus) error {
	path := pathSchedules + "/" + url.PathEscape(visitID) + "/status"
	return c.mutate(ctx, http.MethodPut, path, statusRequest{Status: string(status)})
}

// Ping checks the backend's health endpoint. It does not authenticate.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, pathStatus, nil, false)
	return err
}

func (c *Client) list(ctx context.Context, path string) ([]schedule.Visit, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	records, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return toVisits(records, c.location, c.logger), nil
}

func (c *Client) mutate(ctx context.Context, method, path string, payload any) error {
	body, err := c.do(ctx, method, path, payload, true)
	if err != nil {
		return err
	}
	var msg messageResponse
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		c.logger.Debug().Str("path", path).Str("message", msg.Message).Msg("care api accepted request")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, authenticate bool) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticate {
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("care api request failed")
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("care api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return auth.ErrNoToken
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	c.checkExpiry(token)
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// checkExpiry warns once per token when it has expired. The request is
// still sent; refreshing is the auth collaborator's job.
func (c *Client) checkExpiry(token string) {
	claims, err := auth.Inspect(token)
	if err != nil || !claims.Expired(c.now()) {
		return
	}

	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	if c.warnedToken == token {
		return
	}
	c.warnedToken = token
	c.logger.Warn().
		Time("expired_at", claims.ExpiresAt).
		Str("user_id", claims.UserID).
		Msg("access token has expired")
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
