package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"agora/native/market"
)

// Carrier reports the delivery state of a tracking id.
type Carrier interface {
	Track(ctx context.Context, trackingID string) (market.DeliveryStatus, error)
}

// CarrierClient polls a carrier tracking API of the form
// GET {base}/track/{trackingID} -> {"status": "..."}.
type CarrierClient struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func NewCarrierClient(cfg CarrierConfig) *CarrierClient {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = cfg.RetryMax
	retryClient.HTTPClient.Timeout = cfg.Timeout.Duration
	return &CarrierClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  retryClient,
	}
}

type trackResponse struct {
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
}

func (c *CarrierClient) Track(ctx context.Context, trackingID string) (market.DeliveryStatus, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+"/track/"+url.PathEscape(trackingID), nil)
	if err != nil {
		return market.StatusNotFound, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return market.StatusNotFound, fmt.Errorf("carrier: track: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return market.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return market.StatusNotFound, fmt.Errorf("carrier: track: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var payload trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return market.StatusNotFound, fmt.Errorf("carrier: decode track response: %w", err)
	}
	return MapCarrierStatus(payload.Status)
}

// MapCarrierStatus folds carrier vocabulary onto the delivery statuses the
// host understands.
func MapCarrierStatus(raw string) (market.DeliveryStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unknown", "not_found", "label_created", "pre_transit":
		return market.StatusNotFound, nil
	case "accepted", "picked_up", "in_transit", "out_for_delivery", "available_for_pickup":
		return market.StatusInTransit, nil
	case "delivered":
		return market.StatusDelivered, nil
	case "exception", "failure", "returned_to_sender", "lost", "cancelled":
		return market.StatusException, nil
	default:
		return market.StatusNotFound, fmt.Errorf("carrier: unknown status %q", raw)
	}
}
