package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"agora/core"
	"agora/core/types"
	"agora/rpc"
)

// HostAPI is the subset of the host HTTP API the relayer drives.
type HostAPI interface {
	Shipments(ctx context.Context) ([]rpc.TradeView, error)
	Account(ctx context.Context, addr string) (*rpc.AccountView, error)
	Submit(ctx context.Context, call *types.Call) (*core.Receipt, error)
}

// APIError is a failed host response.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("host api: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// HostClient talks to the host HTTP API.
type HostClient struct {
	endpoint string
	client   *retryablehttp.Client
}

func NewHostClient(endpoint string, retryMax int) *HostClient {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = retryMax
	return &HostClient{endpoint: endpoint, client: retryClient}
}

func (c *HostClient) Shipments(ctx context.Context) ([]rpc.TradeView, error) {
	var out []rpc.TradeView
	if err := c.do(ctx, http.MethodGet, "/v1/shipments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HostClient) Account(ctx context.Context, addr string) (*rpc.AccountView, error) {
	var out rpc.AccountView
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+addr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HostClient) Submit(ctx context.Context, call *types.Call) (*core.Receipt, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	var out rpc.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/calls", body, &out); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

func (c *HostClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader interface{}
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequest(method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("host api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("host api: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var envelope struct {
			Error *rpc.RPCError `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("host api: decode response: %w", err)
	}
	return nil
}
