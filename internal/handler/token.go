package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/chain"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/fees"
	"github.com/FidelCoder/GlobeLinkPay/internal/otp"
	"github.com/FidelCoder/GlobeLinkPay/internal/response"
)

const otpValidity = 5 * time.Minute

type sendTokenRequest struct {
	RecipientPhone   string `json:"recipient_phone,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
	Amount           string `json:"amount"`
	Chain            string `json:"chain"`
	OTP              string `json:"otp"`
}

// RequestTransferOTP issues a one-time code gating a token send.
func (h *PaymentHandler) RequestTransferOTP(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	code, err := otp.Generate()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "could not generate code")
		return
	}
	if err := h.otp.Put(r.Context(), account.PhoneNumber, code, otpValidity); err != nil {
		h.logger.Error("otp store failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "could not store code")
		return
	}

	st, err := h.notifier.Send(r.Context(), account.PhoneNumber, "Your GlobeLinkPay transfer code is "+code)
	if err != nil || !st.Delivered() {
		h.logger.Warn("otp delivery failed",
			zap.String("phone", account.PhoneNumber), zap.Error(err))
		response.Error(w, http.StatusBadGateway, "could not deliver code")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "code sent"})
}

// SendTokenHandler moves tokens to another user (by phone) or to a raw
// address, gated by a one-time code.
func (h *PaymentHandler) SendTokenHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req sendTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.otp.Consume(r.Context(), account.PhoneNumber, req.OTP); err != nil {
		h.writeFlowError(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid amount")
		return
	}

	toAddress := req.RecipientAddress
	if req.RecipientPhone != "" {
		recipient, err := h.accounts.GetByPhone(r.Context(), req.RecipientPhone)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "recipient not registered")
				return
			}
			response.Error(w, http.StatusInternalServerError, "recipient lookup failed")
			return
		}
		toAddress = recipient.WalletAddress
	}
	if toAddress == "" {
		response.Error(w, http.StatusBadRequest, "recipient required")
		return
	}

	chainName := req.Chain
	if chainName == "" {
		chainName = account.DefaultChain
	}

	res, err := h.orch.SendTokens(r.Context(), account, toAddress, amount, chainName)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

type payMerchantRequest struct {
	MerchantID string `json:"merchant_id"`
	Amount     string `json:"amount"`
	Chain      string `json:"chain"`
}

// PayMerchantHandler pays a registered merchant.
func (h *PaymentHandler) PayMerchantHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req payMerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	merchant, err := h.accounts.GetMerchant(r.Context(), req.MerchantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "merchant not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "merchant lookup failed")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid amount")
		return
	}

	chainName := req.Chain
	if chainName == "" {
		chainName = account.DefaultChain
	}

	res, err := h.orch.PayMerchant(r.Context(), account, merchant, amount, chainName)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

type businessTransferRequest struct {
	MerchantID string `json:"merchant_id"`
	Amount     string `json:"amount"`
	Chain      string `json:"chain"`
	OTP        string `json:"otp"`
}

// BusinessTransferHandler moves funds from a merchant account owned by
// the caller to the caller's personal wallet, gated by a one-time code.
func (h *PaymentHandler) BusinessTransferHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req businessTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.otp.Consume(r.Context(), account.PhoneNumber, req.OTP); err != nil {
		h.writeFlowError(w, err)
		return
	}

	merchant, err := h.accounts.GetMerchant(r.Context(), req.MerchantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "merchant not found")
			return
		}
		response.Error(w, http.StatusInternalServerError, "merchant lookup failed")
		return
	}
	// Same response as an unknown merchant so ownership cannot be probed.
	if merchant.OwnerID != account.ID {
		response.Error(w, http.StatusNotFound, "merchant not found")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid amount")
		return
	}

	chainName := req.Chain
	if chainName == "" {
		chainName = merchant.DefaultChain
	}

	res, err := h.orch.TransferToPersonal(r.Context(), merchant, account, amount, chainName)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// BalanceHandler reads the caller's on-chain token balance.
func (h *PaymentHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	chainName := r.URL.Query().Get("chain")
	if chainName == "" {
		chainName = account.DefaultChain
	}

	balance, err := h.engine.BalanceOf(r.Context(), chainName, account.WalletAddress)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"wallet_address": account.WalletAddress,
		"chain":          chainName,
		"balance":        balance.String(),
	})
}

// HistoryHandler lists the caller's ledger entries.
func (h *PaymentHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	limit, offset := 20, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	txs, total, err := h.ledger.ListByParty(r.Context(), account.WalletAddress, limit, offset)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total":        total,
	})
}

// TokenEventsHandler lists recent on-chain token transfers for the
// caller's wallet from the chain's explorer, including movements made
// outside this service.
func (h *PaymentHandler) TokenEventsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	chainName := r.URL.Query().Get("chain")
	if chainName == "" {
		chainName = account.DefaultChain
	}
	limit := 5
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 50 {
		limit = v
	}

	events, err := h.explorer.TokenTransfers(r.Context(), chainName, account.WalletAddress, limit)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"chain":  chainName,
		"events": events,
	})
}

// UnifyHandler marks the caller's wallet as unified across chains.
func (h *PaymentHandler) UnifyHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	address, err := chain.DeriveAddress(account.SigningKey)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "could not derive address")
		return
	}
	if err := h.accounts.MarkUnified(r.Context(), account.ID); err != nil {
		h.logger.Error("unify update failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "could not update account")
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"wallet_address": address})
}

// RateHandler exposes the current conversion rate.
func (h *PaymentHandler) RateHandler(w http.ResponseWriter, r *http.Request) {
	rate, err := h.rates.GetRate(r.Context())
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"pair": "USDC/KES", "rate": rate.String()})
}

// FeeQuoteHandler quotes the service fee for an amount.
func (h *PaymentHandler) FeeQuoteHandler(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid amount")
		return
	}
	fee, err := fees.Fee(amount)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{
		"amount": amount.String(),
		"fee":    fee.String(),
	})
}
