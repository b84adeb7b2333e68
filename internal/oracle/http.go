package oracle

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

	"github.com/roach88/shipsure/internal/policy"
)

// HTTPClient observes shipments through a JSON status endpoint:
//
//	GET {BaseURL}/shipments/{id}
//	{"shipmentId": "...", "status": "Damaged", "location": "...", "note": "...", "timestamp": "RFC3339"}
//
// status may be the enum name or its number.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	now     func() time.Time
}

// NewHTTPClient creates a client with the given per-request timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type statusPayload struct {
	ShipmentID string          `json:"shipmentId"`
	Status     json.RawMessage `json:"status"`
	Location   string          `json:"location"`
	Note       string          `json:"note"`
	Timestamp  *time.Time      `json:"timestamp"`
}

func (c *HTTPClient) Observe(ctx context.Context, shipmentID string) policy.Observation {
	obs, err := c.fetch(ctx, shipmentID)
	if err != nil {
		return policy.UnavailableObservation(shipmentID, err)
	}
	return obs
}

func (c *HTTPClient) fetch(ctx context.Context, shipmentID string) (policy.Observation, error) {
	endpoint := c.BaseURL + "/shipments/" + url.PathEscape(shipmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return policy.Observation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return policy.Observation{}, fmt.Errorf("get %s: %w", shipmentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return policy.Observation{}, fmt.Errorf("get %s: status %d: %s", shipmentID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload statusPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return policy.Observation{}, fmt.Errorf("decode %s: %w", shipmentID, err)
	}
	if payload.ShipmentID != "" && payload.ShipmentID != shipmentID {
		return policy.Observation{}, fmt.Errorf("decode %s: payload is for %q", shipmentID, payload.ShipmentID)
	}

	status, err := parseWireStatus(payload.Status)
	if err != nil {
		return policy.Observation{}, fmt.Errorf("decode %s: %w", shipmentID, err)
	}

	ts := c.now().UTC()
	if payload.Timestamp != nil && !payload.Timestamp.IsZero() {
		ts = payload.Timestamp.UTC()
	}
	note := payload.Note
	if note == "" {
		note = policy.StatusNote(status)
	}

	return policy.Observation{
		ShipmentID: shipmentID,
		Status:     status,
		Location:   payload.Location,
		Note:       note,
		Timestamp:  ts,
		Outcome:    policy.Observed,
	}, nil
}

// parseWireStatus accepts "Damaged" or 2.
func parseWireStatus(raw json.RawMessage) (policy.ShipmentStatus, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing status: %w", policy.ErrInvalidStatus)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return policy.ParseShipmentStatus(name)
	}
	n, err := strconv.ParseUint(string(raw), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("status %s: %w", raw, policy.ErrInvalidStatus)
	}
	s := policy.ShipmentStatus(n)
	if !s.Valid() {
		return 0, fmt.Errorf("status %d: %w", n, policy.ErrInvalidStatus)
	}
	return s, nil
}
