package mortality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"
)

var jitoTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

func randomTipAccount() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(jitoTipAccounts[rand.IntN(len(jitoTipAccounts))])
}

// Relay submits an already signed, base58 encoded transaction.
type Relay interface {
	SendTransaction(ctx context.Context, encoded string) (string, error)
}

// JitoRelay posts transactions to a block engine, at most one per second.
type JitoRelay struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

func NewJitoRelay(baseURL string) *JitoRelay {
	if baseURL == "" {
		baseURL = BlockEngine
	}
	return &JitoRelay{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type relayRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int      `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type relayResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *JitoRelay) SendTransaction(ctx context.Context, encoded string) (string, error) {
	payload, err := json.Marshal(relayRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendTransaction",
		Params:  []string{encoded},
	})
	if err != nil {
		return "", err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("relay: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out relayResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("relay: %d %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == "" {
		return "", errors.New("relay: empty signature")
	}
	return out.Result, nil
}
