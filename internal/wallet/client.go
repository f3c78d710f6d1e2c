package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnavailable wraps every transport, timeout or non-2xx failure
var ErrUnavailable = errors.New("wallet service unavailable")

// CollectRequest asks the wallet to pull a payment from the payer's phone
type CollectRequest struct {
	OrganizerID uuid.UUID
	Phone       string
	Amount      decimal.Decimal
	Reference   string
}

// CollectResult is the wallet's acknowledgement
type CollectResult struct {
	ProviderRef string `json:"mpesa_ref"`
}

type collectPayload struct {
	OrganizerID string `json:"organizer_id"`
	Phone       string `json:"phone"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
}

// Client calls the external wallet service
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewClient creates a wallet client. Every request is bounded by timeout.
func NewClient(baseURL, serviceKey string, timeout time.Duration) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Collect initiates a payment collection for a pending payment
func (c *Client) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	ctx, span := util.StartSpan(ctx, "WalletClient.Collect")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WalletRequestLatency.Observe(time.Since(start).Seconds())
	}()

	payload := collectPayload{
		OrganizerID: req.OrganizerID.String(),
		Phone:       req.Phone,
		Amount:      req.Amount.StringFixed(2),
		Reference:   req.Reference,
	}

	var result CollectResult
	if err := c.post(ctx, "payment/collect/", payload, &result); err != nil {
		util.WalletRequestsFailed.Inc()
		util.GetLogger().Warn("Payment collection failed",
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, err
	}

	return &result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Key", c.serviceKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	return nil
}
