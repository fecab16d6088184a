package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DeliveryStatus is the provider-assigned per-recipient outcome of a send.
type DeliveryStatus struct {
	Recipient  string
	Status     string
	StatusCode int
}

func (d DeliveryStatus) Delivered() bool {
	return strings.EqualFold(d.Status, "Success")
}

// Sender is the notification collaborator: OTPs and settlement notices go
// out through it. A bulk call can partially succeed, so each recipient's
// status has to be checked individually.
type Sender interface {
	Send(ctx context.Context, phone, message string) (DeliveryStatus, error)
}

// SMSClient talks to an Africa's Talking shaped bulk messaging endpoint.
type SMSClient struct {
	baseURL  string
	apiKey   string
	username string
	http     *http.Client
	logger   *zap.Logger
}

func NewSMSClient(baseURL, apiKey, username string, logger *zap.Logger) *SMSClient {
	return &SMSClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		username: username,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

func (c *SMSClient) Send(ctx context.Context, phone, message string) (DeliveryStatus, error) {
	statuses, err := c.SendBulk(ctx, []string{phone}, message)
	if err != nil {
		return DeliveryStatus{}, err
	}
	for _, st := range statuses {
		if st.Recipient == phone || len(statuses) == 1 {
			return st, nil
		}
	}
	return DeliveryStatus{}, fmt.Errorf("no delivery status returned for %s", phone)
}

func (c *SMSClient) SendBulk(ctx context.Context, phones []string, message string) ([]DeliveryStatus, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("to", strings.Join(phones, ","))
	form.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("sms provider returned %d", resp.StatusCode)
	}

	var body struct {
		SMSMessageData struct {
			Recipients []struct {
				Number     string `json:"number"`
				Status     string `json:"status"`
				StatusCode int    `json:"statusCode"`
			} `json:"Recipients"`
		} `json:"SMSMessageData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	statuses := make([]DeliveryStatus, 0, len(body.SMSMessageData.Recipients))
	for _, r := range body.SMSMessageData.Recipients {
		st := DeliveryStatus{Recipient: r.Number, Status: r.Status, StatusCode: r.StatusCode}
		if !st.Delivered() {
			c.logger.Warn("sms not delivered",
				zap.String("recipient", r.Number),
				zap.String("status", r.Status),
				zap.Int("status_code", r.StatusCode))
		}
		statuses = append(statuses, st)
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("sms provider returned no recipients")
	}
	return statuses, nil
}
