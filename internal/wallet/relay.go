package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mlaurenti/eleonora/internal/reliability"
)

const (
	maxAttempts  = 3
	retryBase    = 200 * time.Millisecond
	retryCeiling = 2 * time.Second
)

// Deployment describes a sponsored smart wallet deployment.
type Deployment struct {
	Address  string `json:"address"`
	TxHash   string `json:"tx_hash"`
	ChainID  int64  `json:"chain_id"`
	Deployed bool   `json:"deployed"`
}

// RelayClient talks to a gasless transaction relay. The sponsor API key
// pays for gas, so end users never need funds of their own.
type RelayClient struct {
	baseURL    string
	sponsorKey string
	chainID    int64
	client     *http.Client
}

func NewRelayClient(baseURL, sponsorKey string, chainID int64) *RelayClient {
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sponsorKey: sponsorKey,
		chainID:    chainID,
		client:     &http.Client{Timeout: 20 * time.Second},
	}
}

type deployRequest struct {
	Owner   string `json:"owner"`
	ChainID int64  `json:"chain_id"`
}

type sponsorRequest struct {
	Wallet  string `json:"wallet"`
	To      string `json:"to"`
	Data    string `json:"data"`
	ChainID int64  `json:"chain_id"`
}

type sponsorResponse struct {
	TxHash string `json:"tx_hash"`
}

// DeploySmartWallet creates (or reports) the smart wallet for an owner
// address. Idempotent on the relay side.
func (c *RelayClient) DeploySmartWallet(ctx context.Context, owner string) (*Deployment, error) {
	var out Deployment
	if err := c.post(ctx, "/v1/wallets/deploy", deployRequest{Owner: owner, ChainID: c.chainID}, &out); err != nil {
		return nil, fmt.Errorf("deploy smart wallet: %w", err)
	}
	out.ChainID = c.chainID
	return &out, nil
}

// SponsorCall submits a sponsored contract call through the relay.
func (c *RelayClient) SponsorCall(ctx context.Context, walletAddr, to, data string) (string, error) {
	var out sponsorResponse
	req := sponsorRequest{Wallet: walletAddr, To: to, Data: data, ChainID: c.chainID}
	if err := c.post(ctx, "/v1/relay/sponsored", req, &out); err != nil {
		return "", fmt.Errorf("sponsor call: %w", err)
	}
	return out.TxHash, nil
}

func (c *RelayClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, retryBase, retryCeiling)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Sponsor-Api-Key", c.sponsorKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return json.Unmarshal(respBody, out)
		}

		lastErr = fmt.Errorf("relay status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return lastErr
		}
	}
	return lastErr
}
