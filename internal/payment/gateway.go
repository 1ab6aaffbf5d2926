package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GatewayOrderRequest asks the gateway to open an order for an amount in minor units
type GatewayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// GatewayOrder is the gateway's view of an order. Raw keeps the full response.
type GatewayOrder struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Raw      json.RawMessage `json:"-"`
}

// Gateway opens payment orders with the payment provider
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
}

// RazorpayClient talks to the Razorpay Orders REST API with basic auth
type RazorpayClient struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
}

// NewRazorpayClient creates a client. It returns nil when either credential is
// missing so callers can treat the gateway as not configured.
func NewRazorpayClient(keyID, secret, baseURL string, timeout time.Duration) *RazorpayClient {
	if keyID == "" || secret == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RazorpayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		keyID:   keyID,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, in GatewayOrderRequest) (GatewayOrder, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("encode gateway order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return GatewayOrder{}, fmt.Errorf("gateway returned %d: %s %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}

	var out GatewayOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return GatewayOrder{}, fmt.Errorf("decode gateway order: %w", err)
	}
	if out.ID == "" {
		return GatewayOrder{}, fmt.Errorf("gateway order without id")
	}
	out.Raw = json.RawMessage(raw)
	return out, nil
}
