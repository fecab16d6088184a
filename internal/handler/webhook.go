package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/response"
)

// Provider callbacks are acknowledged with their fixed success bodies no
// matter what happens internally: the provider does not usefully retry
// on a failure response, so the flow is settled (or queued for an
// operator) out-of-band instead.

var (
	stkAckBody   = map[string]string{"ResponseCode": "00000000", "ResponseDesc": "success"}
	b2cAckBody   = map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"}
	queueAckBody = map[string]bool{"Timeout": true}
)

type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// STKWebhookHandler receives the collection result callback.
func (h *PaymentHandler) STKWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var body stkCallbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("unparseable stk callback", zap.Error(err))
		response.Raw(w, http.StatusOK, stkAckBody)
		return
	}
	cb := body.Body.StkCallback

	h.logger.Info("stk callback received",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode))

	if err := h.orch.HandleCollectionResult(r.Context(), h.accounts, cb.CheckoutRequestID, cb.ResultCode, cb.ResultDesc); err != nil {
		h.logger.Error("collection reconciliation failed",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(err))
	}
	response.Raw(w, http.StatusOK, stkAckBody)
}

type b2cCallbackBody struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// B2CWebhookHandler receives the payout result callback.
func (h *PaymentHandler) B2CWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var body b2cCallbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("unparseable b2c callback", zap.Error(err))
		response.Raw(w, http.StatusOK, b2cAckBody)
		return
	}
	res := body.Result

	h.logger.Info("b2c callback received",
		zap.String("conversation_id", res.ConversationID),
		zap.Int("result_code", res.ResultCode))

	if err := h.orch.HandlePayoutResult(r.Context(), res.ConversationID, res.ResultCode, res.ResultDesc); err != nil {
		h.logger.Error("payout reconciliation failed",
			zap.String("conversation_id", res.ConversationID),
			zap.Error(err))
	}
	response.Raw(w, http.StatusOK, b2cAckBody)
}

// QueueWebhookHandler receives the provider's queue-timeout callback.
func (h *PaymentHandler) QueueWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var body b2cCallbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("unparseable queue timeout callback", zap.Error(err))
		response.Raw(w, http.StatusOK, queueAckBody)
		return
	}

	h.logger.Warn("provider queue timeout",
		zap.String("conversation_id", body.Result.ConversationID))

	if err := h.orch.HandleQueueTimeout(r.Context(), body.Result.ConversationID); err != nil {
		h.logger.Error("queue timeout reconciliation failed",
			zap.String("conversation_id", body.Result.ConversationID),
			zap.Error(err))
	}
	response.Raw(w, http.StatusOK, queueAckBody)
}
