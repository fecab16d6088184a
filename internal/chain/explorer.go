package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// TransferEvent is one token transfer as reported by a chain explorer's
// etherscan-compatible account/tokentx endpoint.
type TransferEvent struct {
	BlockNumber  string `json:"blockNumber"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TokenName    string `json:"tokenName"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenDecimal string `json:"tokenDecimal"`
}

// Explorer reads token transfer history from per-chain block explorers.
// The ledger only records transfers this service executed; the explorer
// view also shows movements made outside it.
type Explorer struct {
	endpoints map[string]string
	client    *http.Client
	logger    *zap.Logger
}

func NewExplorer(endpoints map[string]string, logger *zap.Logger) *Explorer {
	return &Explorer{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// TokenTransfers returns the most recent token transfers touching the
// address, newest first.
func (e *Explorer) TokenTransfers(ctx context.Context, chainName, address string, limit int) ([]TransferEvent, error) {
	base, ok := e.endpoints[chainName]
	if !ok || base == "" {
		return nil, fmt.Errorf("%w: no explorer for chain %q", domain.ErrUnsupportedChain, chainName)
	}
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("address", address)
	q.Set("page", "1")
	q.Set("offset", fmt.Sprintf("%d", limit))
	q.Set("sort", "desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: explorer request for %s: %v", domain.ErrUpstreamUnavailable, chainName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e.logger.Warn("explorer returned non-200",
			zap.String("chain", chainName),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: explorer for %s returned %d", domain.ErrUpstreamUnavailable, chainName, resp.StatusCode)
	}

	var parsed explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode explorer response: %v", domain.ErrUpstreamUnavailable, err)
	}

	// Status "0" with "No transactions found" is an empty result, not an
	// upstream failure.
	if parsed.Status != "1" {
		if parsed.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: explorer for %s: %s", domain.ErrUpstreamUnavailable, chainName, parsed.Message)
	}

	var events []TransferEvent
	if err := json.Unmarshal(parsed.Result, &events); err != nil {
		return nil, fmt.Errorf("%w: decode explorer result: %v", domain.ErrUpstreamUnavailable, err)
	}
	return events, nil
}
