// Package strava talks to the activity tracking platform's REST API.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError carries the upstream status and body of a failed call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker API error %d: %s", e.StatusCode, e.Body)
}

// Client is the tracking platform API client. Per-user access tokens are
// supplied on each call; the OAuth refresh flow lives in TokenManager.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client against the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetActivity fetches the detailed activity, including split metrics.
func (c *Client) GetActivity(ctx context.Context, accessToken string, id int64) (*DetailedActivity, error) {
	var activity DetailedActivity
	path := fmt.Sprintf("/activities/%d", id)
	if err := c.get(ctx, accessToken, path, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetStreams fetches the requested channels keyed by type.
func (c *Client) GetStreams(ctx context.Context, accessToken string, id int64, channels []string) (*Streams, error) {
	params := url.Values{}
	params.Set("keys", strings.Join(channels, ","))
	params.Set("key_by_type", "true")

	var streams Streams
	path := fmt.Sprintf("/activities/%d/streams", id)
	if err := c.get(ctx, accessToken, path, params, &streams); err != nil {
		return nil, err
	}
	return &streams, nil
}

// GetAthleteActivities lists the authenticated athlete's activities, newest
// first. Pages are 1-based.
func (c *Client) GetAthleteActivities(ctx context.Context, accessToken string, page, perPage int) ([]DetailedActivity, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	var activities []DetailedActivity
	if err := c.get(ctx, accessToken, "/athlete/activities", params, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetLaps fetches the ordered lap list for an activity.
func (c *Client) GetLaps(ctx context.Context, accessToken string, id int64) ([]Lap, error) {
	var laps []Lap
	path := fmt.Sprintf("/activities/%d/laps", id)
	if err := c.get(ctx, accessToken, path, nil, &laps); err != nil {
		return nil, err
	}
	return laps, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Window converts the streams payload into an aligned sensor window.
func (s *Streams) Channels() (timeCh, velocity, heartRate, distance []float64, moving []bool) {
	if s == nil {
		return nil, nil, nil, nil, nil
	}
	if s.Time != nil {
		timeCh = s.Time.Data
	}
	if s.VelocitySmooth != nil {
		velocity = s.VelocitySmooth.Data
	}
	if s.Heartrate != nil {
		heartRate = s.Heartrate.Data
	}
	if s.Distance != nil {
		distance = s.Distance.Data
	}
	if s.Moving != nil {
		moving = s.Moving.Data
	}
	return
}
