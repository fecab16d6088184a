package mpesa

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// CollectionResult is the confirmed outcome of an STK push collection.
// CheckoutRequestID is the provider's correlation key; the webhook
// reconciler matches late callbacks against it.
type CollectionResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
}

func (r *CollectionResult) Success() bool { return r.ResultCode == "0" }

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// InitiateCollection submits an STK push pulling amount from payerPhone.
// The provider does not confirm synchronously: the returned result only
// carries the CheckoutRequestID correlation key, and the caller follows
// up with WaitForCollection (or lets the result webhook finish the flow).
// Submission and confirmation are split so the correlation key can be
// persisted before any waiting starts.
func (c *MpesaClient) InitiateCollection(ctx context.Context, payerPhone string, amount float64, accountRef string) (*CollectionResult, error) {
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.PassKey + timestamp))

	payload := map[string]interface{}{
		"BusinessShortCode": c.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            payerPhone,
		"PartyB":            c.ShortCode,
		"PhoneNumber":       payerPhone,
		"CallBackURL":       c.WebhookBaseURL + "/api/mpesa/stk-webhook",
		"AccountReference":  accountRef,
		"TransactionDesc":   "Deposit",
	}

	var res stkPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &res); err != nil {
		return nil, err
	}
	if res.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: stk push declined: %s %s",
			domain.ErrGatewayRejected, res.ErrorCode, firstNonEmpty(res.ResponseDescription, res.ErrorMessage))
	}

	c.logger.Info("stk push accepted",
		zap.String("checkout_request_id", res.CheckoutRequestID),
		zap.String("account_ref", accountRef))

	return &CollectionResult{
		MerchantRequestID: res.MerchantRequestID,
		CheckoutRequestID: res.CheckoutRequestID,
	}, nil
}

// WaitForCollection polls the query endpoint until the provider reports
// a result for the checkout request or the poll deadline passes. An
// inconclusive poll returns ErrGatewayTimeout; the final word then
// arrives on the result webhook.
func (c *MpesaClient) WaitForCollection(ctx context.Context, checkoutRequestID string) (*CollectionResult, error) {
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.PassKey + timestamp))

	result := &CollectionResult{CheckoutRequestID: checkoutRequestID}
	if err := c.pollCollectionStatus(ctx, password, timestamp, result); err != nil {
		return result, err
	}
	return result, nil
}

// pollCollectionStatus runs a bounded backoff loop against the stkpush
// query endpoint. The loop is cancellable through ctx; abandoning it does
// not cancel the provider-side collection, which the webhook path settles
// later.
func (c *MpesaClient) pollCollectionStatus(ctx context.Context, password, timestamp string, result *CollectionResult) error {
	deadline := time.Now().Add(c.PollDeadline)
	interval := c.PollInterval

	if err := sleepCtx(ctx, c.PollInitialDelay); err != nil {
		return err
	}

	for {
		payload := map[string]interface{}{
			"BusinessShortCode": c.ShortCode,
			"Password":          password,
			"Timestamp":         timestamp,
			"CheckoutRequestID": result.CheckoutRequestID,
		}

		var res stkQueryResponse
		err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", payload, &res)
		switch {
		case err != nil:
			c.logger.Warn("stk query failed", zap.Error(err),
				zap.String("checkout_request_id", result.CheckoutRequestID))
		case res.ResultCode != "":
			result.ResultCode = res.ResultCode
			result.ResultDesc = res.ResultDesc
			if !result.Success() {
				return fmt.Errorf("%w: collection result %s: %s",
					domain.ErrGatewayRejected, res.ResultCode, res.ResultDesc)
			}
			return nil
		}
		// No result yet ("transaction is being processed"), keep waiting.

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no collection result for %s",
				domain.ErrGatewayTimeout, result.CheckoutRequestID)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
		if interval *= 2; interval > c.PollMaxInterval {
			interval = c.PollMaxInterval
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
