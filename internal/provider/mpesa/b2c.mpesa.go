package mpesa

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// PayoutResult carries the provider's correlation keys for a B2C payout.
// Final confirmation lands on the result webhook; a "0" response code
// here only means the request was queued.
type PayoutResult struct {
	ConversationID           string
	OriginatorConversationID string
	ResponseDescription      string
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	ErrorCode                string `json:"errorCode"`
	ErrorMessage             string `json:"errorMessage"`
}

// InitiatePayout pushes amount to the recipient's mobile wallet.
func (c *MpesaClient) InitiatePayout(ctx context.Context, amount float64, recipientMsisdn string) (*PayoutResult, error) {
	payload := map[string]interface{}{
		"OriginatorConversationID": uuid.NewString(),
		"InitiatorName":            c.InitiatorName,
		"SecurityCredential":       c.SecurityCredential,
		"CommandID":                "BusinessPayment",
		"Amount":                   amount,
		"PartyA":                   c.B2CShortCode,
		"PartyB":                   recipientMsisdn,
		"Remarks":                  "Withdrawal",
		"QueueTimeOutURL":          c.WebhookBaseURL + "/api/mpesa/queue-webhook",
		"ResultURL":                c.WebhookBaseURL + "/api/mpesa/b2c-webhook",
		"Occasion":                 "Withdraw",
	}

	var res b2cResponse
	if err := c.postJSON(ctx, "/mpesa/b2c/v3/paymentrequest", payload, &res); err != nil {
		return nil, err
	}
	if res.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: payout declined: %s %s",
			domain.ErrGatewayRejected, res.ErrorCode, firstNonEmpty(res.ResponseDescription, res.ErrorMessage))
	}

	c.logger.Info("b2c payout queued",
		zap.String("conversation_id", res.ConversationID),
		zap.String("recipient", recipientMsisdn))

	return &PayoutResult{
		ConversationID:           res.ConversationID,
		OriginatorConversationID: res.OriginatorConversationID,
		ResponseDescription:      res.ResponseDescription,
	}, nil
}
