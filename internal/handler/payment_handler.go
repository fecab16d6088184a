package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/chain"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/middleware"
	"github.com/FidelCoder/GlobeLinkPay/internal/notify"
	"github.com/FidelCoder/GlobeLinkPay/internal/orchestrator"
	"github.com/FidelCoder/GlobeLinkPay/internal/otp"
	"github.com/FidelCoder/GlobeLinkPay/internal/rates"
	"github.com/FidelCoder/GlobeLinkPay/internal/repository"
	"github.com/FidelCoder/GlobeLinkPay/internal/response"
)

type PaymentHandler struct {
	orch     *orchestrator.Orchestrator
	accounts *repository.AccountRepo
	ledger   *repository.TransactionRepo
	engine   *chain.Engine
	explorer *chain.Explorer
	rates    *rates.Oracle
	otp      otp.Store
	notifier notify.Sender
	hub      *Hub
	logger   *zap.Logger
}

func NewPaymentHandler(
	orch *orchestrator.Orchestrator,
	accounts *repository.AccountRepo,
	ledger *repository.TransactionRepo,
	engine *chain.Engine,
	explorer *chain.Explorer,
	oracle *rates.Oracle,
	otpStore otp.Store,
	notifier notify.Sender,
	hub *Hub,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		orch:     orch,
		accounts: accounts,
		ledger:   ledger,
		engine:   engine,
		explorer: explorer,
		rates:    oracle,
		otp:      otpStore,
		notifier: notifier,
		hub:      hub,
		logger:   logger,
	}
}

// callerAccount resolves the authenticated caller to their account.
func (h *PaymentHandler) callerAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	account, err := h.accounts.GetByPhone(r.Context(), caller.PhoneNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized, "no account for caller")
			return nil, false
		}
		h.logger.Error("account lookup failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "account lookup failed")
		return nil, false
	}
	return account, true
}

// writeFlowError maps the error taxonomy onto HTTP statuses without
// collapsing which leg failed.
func (h *PaymentHandler) writeFlowError(w http.ResponseWriter, err error) {
	var flowErr *domain.FlowError
	msg := err.Error()
	if errors.As(err, &flowErr) {
		msg = flowErr.Error()
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		response.Error(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrUnsupportedChain):
		response.Error(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrOTPInvalid), errors.Is(err, domain.ErrOTPExpired):
		response.Error(w, http.StatusForbidden, msg)
	case errors.Is(err, domain.ErrAuthentication):
		response.Error(w, http.StatusBadGateway, msg)
	case errors.Is(err, domain.ErrGatewayRejected), errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrTransferRejected):
		response.Error(w, http.StatusUnprocessableEntity, msg)
	case domain.Retryable(err), errors.Is(err, domain.ErrGatewayTimeout):
		response.Error(w, http.StatusServiceUnavailable, msg)
	default:
		response.Error(w, http.StatusInternalServerError, msg)
	}
}
