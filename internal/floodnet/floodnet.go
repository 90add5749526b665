// Package floodnet reads street flood sensor depths from the FloodNet NYC API.
package floodnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

const (
	// DefaultBaseURL is the public FloodNet API.
	DefaultBaseURL = "https://api.floodnet.nyc"
	// DefaultDeployment is the sensor watched when none is configured.
	DefaultDeployment = "dev_id_nyc_floodnet_deployment_1"

	httpTimeout = 10 * time.Second
)

// Client implements checkin.FloodSource for a single deployment.
type Client struct {
	baseURL    string
	deployment string
	client     *http.Client
	now        func() time.Time
}

// New creates a client. Empty values fall back to DefaultBaseURL and DefaultDeployment.
func New(baseURL, deployment string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if deployment == "" {
		deployment = DefaultDeployment
	}
	if hc == nil {
		hc = &http.Client{Timeout: httpTimeout}
	}
	return &Client{baseURL: baseURL, deployment: deployment, client: hc, now: time.Now}
}

// Deployment returns the sensor id this client reads.
func (c *Client) Deployment() string { return c.deployment }

// LatestReading returns the last observation between since and now. The bool is
// false when the sensor reported nothing in that window.
func (c *Client) LatestReading(ctx context.Context, since time.Time) (*checkin.FloodReading, bool, error) {
	q := url.Values{}
	q.Set("start_date", since.UTC().Format(time.RFC3339))
	q.Set("end_date", c.now().UTC().Format(time.RFC3339))
	u := fmt.Sprintf("%s/api/v1/deployments/%s/history?%s", c.baseURL, url.PathEscape(c.deployment), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("floodnet: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // base URL is from trusted config
	if err != nil {
		return nil, false, fmt.Errorf("floodnet: get history: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false, fmt.Errorf("floodnet: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("floodnet: status %d", resp.StatusCode)
	}
	return parseHistory(body, c.deployment)
}

// parseHistory takes the last element of a history array. A reading without a
// numeric value counts as zero depth.
func parseHistory(body []byte, sensor string) (*checkin.FloodReading, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, false, errors.New("floodnet: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.Null {
		return nil, false, nil
	}
	if !root.IsArray() {
		return nil, false, errors.New("floodnet: history is not an array")
	}
	items := root.Array()
	if len(items) == 0 {
		return nil, false, nil
	}

	last := items[len(items)-1]
	r := &checkin.FloodReading{
		SensorName:  sensor,
		DepthInches: last.Get("value").Float(),
	}
	for _, key := range []string{"time", "timestamp", "created_at"} {
		if ts := last.Get(key).String(); ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				r.ObservedAt = t
				break
			}
		}
	}
	return r, true, nil
}

var _ checkin.FloodSource = (*Client)(nil)
