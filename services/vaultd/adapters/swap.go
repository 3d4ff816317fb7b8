package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"yieldvault/native/vault"
)

// SwapRouter converts assets through an HTTP routing service.
type SwapRouter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ vault.Swapper = (*SwapRouter)(nil)

type convertRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type convertResponse struct {
	AmountOut string `json:"amountOut"`
	Error     string `json:"error,omitempty"`
}

// NewSwapRouter builds a router client. The transport is instrumented so
// conversions show up as child spans of the vault operation.
func NewSwapRouter(endpoint, apiKey string, timeout time.Duration) (*SwapRouter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("swap endpoint required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SwapRouter{
		endpoint: trimmed,
		apiKey:   strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Convert asks the router to swap amount of from into to.
func (s *SwapRouter) Convert(ctx context.Context, from common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("swap: amount must be positive")
	}
	body, err := json.Marshal(convertRequest{From: from.Hex(), To: to.Hex(), Amount: amount.String()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/convert", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap: request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("swap: read response: %w", err)
	}
	var decoded convertResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("swap: decode response: %w", err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		if decoded.Error != "" {
			return nil, fmt.Errorf("swap: router returned %d: %s", resp.StatusCode, decoded.Error)
		}
		return nil, fmt.Errorf("swap: router returned %d", resp.StatusCode)
	}
	out, ok := new(big.Int).SetString(strings.TrimSpace(decoded.AmountOut), 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("swap: malformed amountOut %q", decoded.AmountOut)
	}
	return out, nil
}
