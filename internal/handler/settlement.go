package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/response"
)

type settlementRequest struct {
	Amount float64 `json:"amount"`
	Chain  string  `json:"chain"`
}

// DepositHandler starts a mobile-money -> token settlement for the
// caller.
func (h *PaymentHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chainName := req.Chain
	if chainName == "" {
		chainName = account.DefaultChain
	}

	res, err := h.orch.Deposit(r.Context(), account, req.Amount, chainName)
	if err != nil {
		h.logger.Warn("deposit failed",
			zap.String("phone", account.PhoneNumber),
			zap.Float64("amount", req.Amount),
			zap.Error(err))
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// WithdrawHandler starts a token -> mobile-money settlement for the
// caller.
func (h *PaymentHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.callerAccount(w, r)
	if !ok {
		return
	}

	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chainName := req.Chain
	if chainName == "" {
		chainName = account.DefaultChain
	}

	res, err := h.orch.Withdraw(r.Context(), account, req.Amount, chainName)
	if err != nil {
		state := ""
		if res != nil {
			state = res.State
		}
		h.logger.Warn("withdrawal failed",
			zap.String("phone", account.PhoneNumber),
			zap.Float64("amount", req.Amount),
			zap.String("state", state),
			zap.Error(err))
		h.writeFlowError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}
