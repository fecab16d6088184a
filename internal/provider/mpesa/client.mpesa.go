package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// MpesaClient drives the Daraja API: oauth credential exchange, STK push
// collections with an active status poll, and B2C payouts.
type MpesaClient struct {
	BaseURL             string
	ConsumerKey         string
	ConsumerSecret      string
	PassKey             string
	ShortCode           string
	B2CShortCode        string
	InitiatorName       string
	SecurityCredential  string
	WebhookBaseURL      string
	HttpClient          *http.Client

	// Collection status poll tuning.
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollMaxInterval  time.Duration
	PollDeadline     time.Duration

	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	group       singleflight.Group
}

type Options struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	PassKey            string
	ShortCode          string
	B2CShortCode       string
	InitiatorName      string
	SecurityCredential string
	WebhookBaseURL     string
	RequestTimeout     time.Duration
}

func NewMpesaClient(opts Options, logger *zap.Logger) *MpesaClient {
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &MpesaClient{
		BaseURL:            opts.BaseURL,
		ConsumerKey:        opts.ConsumerKey,
		ConsumerSecret:     opts.ConsumerSecret,
		PassKey:            opts.PassKey,
		ShortCode:          opts.ShortCode,
		B2CShortCode:       opts.B2CShortCode,
		InitiatorName:      opts.InitiatorName,
		SecurityCredential: opts.SecurityCredential,
		WebhookBaseURL:     opts.WebhookBaseURL,
		HttpClient:         &http.Client{Timeout: timeout},

		PollInitialDelay: 5 * time.Second,
		PollInterval:     2 * time.Second,
		PollMaxInterval:  8 * time.Second,
		PollDeadline:     45 * time.Second,

		logger: logger,
	}
}

// getToken returns a valid bearer credential, refetching when the cached
// one has expired. Concurrent refreshes collapse to a single upstream
// call.
func (c *MpesaClient) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		c.mu.Lock()
		if c.token != "" && time.Now().Before(c.tokenExpiry) {
			tok := c.token
			c.mu.Unlock()
			return tok, nil
		}
		c.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
		if err != nil {
			return "", err
		}
		req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return "", fmt.Errorf("%w: oauth returned %d: %s",
				domain.ErrAuthentication, resp.StatusCode, string(body))
		}

		var res struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   string `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return "", err
		}
		if res.AccessToken == "" {
			return "", fmt.Errorf("%w: empty access token", domain.ErrAuthentication)
		}

		ttl := 50 * time.Minute
		if secs, err := strconv.Atoi(res.ExpiresIn); err == nil && secs > 120 {
			// Expire a minute early so in-flight requests never carry a
			// token that dies mid-call.
			ttl = time.Duration(secs-60) * time.Second
		}

		c.mu.Lock()
		c.token = res.AccessToken
		c.tokenExpiry = time.Now().Add(ttl)
		c.mu.Unlock()

		return res.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// postJSON submits an authenticated JSON request and decodes the reply
// into out.
func (c *MpesaClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
