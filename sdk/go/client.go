// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package adpolicysdk is a thin Go client for the ad policy HTTP API.
package adpolicysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adxyz/adpolicy/core"
	"github.com/adxyz/adpolicy/pkg/analytics"
)

// Client talks to an adpolicyd instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g. "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// EligibilityRequest asks whether an ad may be shown.
type EligibilityRequest struct {
	Context   string `json:"context"`
	Placement string `json:"placement"`
	AdID      string `json:"adId,omitempty"`
	Position  *int   `json:"position,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// EligibilityDecision is the server's answer.
type EligibilityDecision struct {
	Allowed            bool   `json:"allowed"`
	Reason             string `json:"reason"`
	EngineReason       string `json:"engineReason"`
	RecommendedDelayMs int64  `json:"recommendedDelayMs"`
}

// CheckEligibility runs the full placement policy for one candidate slot.
func (c *Client) CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityDecision, error) {
	var decision EligibilityDecision
	if err := c.postJSON(ctx, "/api/v1/eligibility", req, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// ImpressionReport records that an ad was shown.
type ImpressionReport struct {
	AdID           string  `json:"adId"`
	Placement      string  `json:"placement"`
	Context        string  `json:"context,omitempty"`
	Viewable       bool    `json:"viewable,omitempty"`
	ViewDurationMs int64   `json:"viewDurationMs,omitempty"`
	ECPM           float64 `json:"ecpm,omitempty"`
}

// RecordImpression reports a shown ad to the policy service.
func (c *Client) RecordImpression(ctx context.Context, report ImpressionReport) error {
	return c.postJSON(ctx, "/api/v1/impressions", report, nil)
}

// RecordClick reports a click on the given ad.
func (c *Client) RecordClick(ctx context.Context, adID string) error {
	return c.postJSON(ctx, "/api/v1/clicks", map[string]string{"adId": adID}, nil)
}

// RecordDismissal reports that the user dismissed the given ad.
func (c *Client) RecordDismissal(ctx context.Context, adID string) error {
	return c.postJSON(ctx, "/api/v1/dismissals", map[string]string{"adId": adID}, nil)
}

// RecordReport reports that the user flagged the given ad.
func (c *Client) RecordReport(ctx context.Context, adID, reason string) error {
	return c.postJSON(ctx, "/api/v1/reports", map[string]string{"adId": adID, "reason": reason}, nil)
}

// BlockAdvertiser opts the user out of an advertiser's ads.
func (c *Client) BlockAdvertiser(ctx context.Context, advertiserID string) error {
	path := "/api/v1/advertisers/" + url.PathEscape(advertiserID) + "/block"
	return c.postJSON(ctx, path, nil, nil)
}

// StartViewability begins viewability tracking for an ad instance.
func (c *Client) StartViewability(ctx context.Context, adID string, media core.MediaType) error {
	path := "/api/v1/viewability/" + url.PathEscape(adID) + "/start"
	return c.postJSON(ctx, path, map[string]string{"media": string(media)}, nil)
}

// SendViewabilitySample forwards one visibility sample.
func (c *Client) SendViewabilitySample(ctx context.Context, adID string, visible bool, percent float64) error {
	path := "/api/v1/viewability/" + url.PathEscape(adID) + "/samples"
	body := map[string]any{"visible": visible, "percent": percent}
	return c.postJSON(ctx, path, body, nil)
}

// ViewabilityResult is the outcome of a finished tracking session.
type ViewabilityResult struct {
	Tracked        bool  `json:"tracked"`
	Viewable       bool  `json:"viewable"`
	ViewDurationMs int64 `json:"viewDurationMs"`
}

// StopViewability ends tracking and returns the accumulated view result.
func (c *Client) StopViewability(ctx context.Context, adID string) (*ViewabilityResult, error) {
	path := "/api/v1/viewability/" + url.PathEscape(adID) + "/stop"
	var result ViewabilityResult
	if err := c.postJSON(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats returns the engine, analytics and tracking snapshots.
func (c *Client) Stats(ctx context.Context) (map[string]json.RawMessage, error) {
	var stats map[string]json.RawMessage
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Config fetches the effective frequency configuration.
func (c *Client) Config(ctx context.Context) (*core.FrequencyConfig, error) {
	var cfg core.FrequencyConfig
	if err := c.getJSON(ctx, "/api/v1/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyConfig submits a partial config override and returns the merged result.
func (c *Client) ApplyConfig(ctx context.Context, patch core.ConfigPatch) (*core.FrequencyConfig, error) {
	var cfg core.FrequencyConfig
	if err := c.postJSON(ctx, "/api/v1/config", patch, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reset wipes all frequency state on the server.
func (c *Client) Reset(ctx context.Context) error {
	return c.postJSON(ctx, "/api/v1/reset", nil, nil)
}

// StreamEvents opens the live event websocket and delivers analytics events on
// the returned channel until ctx is cancelled or the connection drops.
func (c *Client) StreamEvents(ctx context.Context) (<-chan analytics.Event, error) {
	wsURL, err := toWebsocketURL(c.baseURL + "/api/v1/events/ws")
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	events := make(chan analytics.Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev analytics.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return events, nil
}

func toWebsocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
