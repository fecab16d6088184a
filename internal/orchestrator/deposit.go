package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/fees"
	"github.com/FidelCoder/GlobeLinkPay/internal/id"
	"github.com/FidelCoder/GlobeLinkPay/internal/pending"
)

// Deposit runs the mobile-money -> token flow: collect KES from the
// user's mobile wallet, then credit their token wallet from the
// platform's own funds. The rate is only consulted once the collection
// has actually confirmed; a ledger entry exists only if the flow reaches
// Settled.
func (o *Orchestrator) Deposit(ctx context.Context, account *domain.Account, amountKES float64, chainName string) (*Result, error) {
	if amountKES <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !o.chainSupported(chainName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}

	ref := id.NewRef("DP")
	res := &Result{RequestRef: ref, State: domain.StateRequested}

	o.publish(account.PhoneNumber, ref, domain.StateCollectionPending, "collection initiated")
	res.State = domain.StateCollectionPending

	collection, err := o.gateway.InitiateCollection(ctx, account.PhoneNumber, amountKES, ref)
	if err != nil {
		res.State = domain.StateFailed
		o.publish(account.PhoneNumber, ref, domain.StateFailed, "collection not accepted")
		return res, domain.NewFlowError(domain.StateCollectionPending, domain.LegCollection, err)
	}
	res.GatewayRef = collection.CheckoutRequestID

	// The provider-side collection is now in flight. Persist the
	// correlation key before waiting, detached from the request context:
	// if the caller disconnects mid-wait, the result webhook must still
	// find a match and settle or fail the flow.
	opCtx := context.WithoutCancel(ctx)
	o.recordPending(opCtx, pending.Operation{
		CorrelationKey: res.GatewayRef,
		RequestRef:     ref,
		FlowType:       domain.TxTypeDeposit,
		PhoneNumber:    account.PhoneNumber,
		AmountKES:      amountKES,
		Chain:          chainName,
		CreatedAt:      time.Now(),
	})

	if _, err := o.gateway.WaitForCollection(ctx, res.GatewayRef); err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) {
			// Conclusive: the user declined or the collection failed.
			_ = o.pendings.Delete(opCtx, res.GatewayRef)
			res.State = domain.StateFailed
			o.publish(account.PhoneNumber, ref, domain.StateFailed, "collection did not confirm")
			return res, domain.NewFlowError(domain.StateCollectionPending, domain.LegCollection, err)
		}
		// Inconclusive (poll deadline, caller gone): the key stays
		// matchable for the webhook.
		return res, domain.NewFlowError(domain.StateCollectionPending, domain.LegCollection, err)
	}

	res.State = domain.StateCollectionConfirmed
	o.publish(account.PhoneNumber, ref, domain.StateCollectionConfirmed, "funds collected")

	return o.settleDeposit(ctx, account.PhoneNumber, account.WalletAddress, amountKES, chainName, res)
}

// settleDeposit performs the rate and token legs of a deposit whose
// collection has confirmed. From here the user's money is already in the
// platform's mobile-money account, so failures become reconciliation
// entries rather than silent aborts.
func (o *Orchestrator) settleDeposit(ctx context.Context, phone, wallet string, amountKES float64, chainName string, res *Result) (*Result, error) {
	ref := res.RequestRef

	rate, err := o.rates.GetRate(ctx)
	if err != nil {
		o.queueReconciliation(ctx, res, phone, chainName, domain.TxTypeDeposit, domain.LegRate, "",
			fmt.Sprintf("collection %s confirmed but rate unavailable", res.GatewayRef))
		return res, domain.NewFlowError(domain.StateCollectionConfirmed, domain.LegRate, err)
	}

	converted := decimal.NewFromFloat(amountKES).Div(rate)
	fee, err := fees.Fee(converted)
	if err != nil {
		return res, domain.NewFlowError(domain.StateRateApplied, domain.LegRate, err)
	}
	credit := converted.Sub(fee)

	res.Rate = rate
	res.TokenAmount = credit
	res.Fee = fee
	res.State = domain.StateRateApplied
	o.publish(phone, ref, domain.StateRateApplied, "rate "+rate.String())

	res.State = domain.StateTokenTransferring
	o.publish(phone, ref, domain.StateTokenTransferring, "crediting wallet")

	// The platform pre-funds conversions: its own key signs the credit.
	txHash, err := o.engine.Transfer(ctx, wallet, credit, chainName, o.platformSigningKey)
	if err != nil {
		o.queueReconciliation(ctx, res, phone, chainName, domain.TxTypeDeposit, domain.LegChain, "",
			fmt.Sprintf("collection %s confirmed but token credit failed: %v", res.GatewayRef, err))
		return res, domain.NewFlowError(domain.StateTokenTransferring, domain.LegChain, err)
	}
	res.TxHash = txHash

	ledgerEntry := &domain.Transaction{
		RequestRef: ref,
		From:       "MPESA:" + phone,
		To:         wallet,
		Amount:     credit.String(),
		Token:      o.tokenSymbol(chainName),
		Chain:      chainName,
		TxHash:     txHash,
		Type:       domain.TxTypeDeposit,
	}
	if err := o.ledger.CreateLedgerEntry(ctx, ledgerEntry); err != nil {
		// Both legs succeeded; only the record is missing. Surface it to
		// the operator queue rather than failing the user's flow.
		o.logger.Error("ledger write failed after settled deposit",
			zap.String("request_ref", ref), zap.Error(err))
		o.queueReconciliation(ctx, res, phone, chainName, domain.TxTypeDeposit, domain.LegChain, txHash,
			"deposit settled but ledger write failed")
	}

	if res.GatewayRef != "" {
		_ = o.pendings.Delete(ctx, res.GatewayRef)
	}

	res.State = domain.StateSettled
	o.publish(phone, ref, domain.StateSettled, "deposit settled")
	o.notifyBestEffort(ctx, phone,
		fmt.Sprintf("Deposit complete: %s %s credited on %s", credit.StringFixed(6), o.tokenSymbol(chainName), chainName))

	o.logger.Info("deposit settled",
		zap.String("request_ref", ref),
		zap.String("phone", phone),
		zap.Float64("amount_kes", amountKES),
		zap.String("token_amount", credit.String()),
		zap.String("chain", chainName),
		zap.String("tx_hash", txHash))

	return res, nil
}

func (o *Orchestrator) publish(phone, ref, state, detail string) {
	o.status.Publish(phone, ref, state, detail)
}

func (o *Orchestrator) recordPending(ctx context.Context, op pending.Operation) {
	if err := o.pendings.Put(ctx, op, o.pendingTTL); err != nil {
		o.logger.Error("pending operation not recorded",
			zap.String("correlation_key", op.CorrelationKey), zap.Error(err))
	}
}

func (o *Orchestrator) queueReconciliation(ctx context.Context, res *Result, phone, chainName, flowType, leg, debitHash, detail string) {
	res.State = domain.StateReconciliation
	entry := &domain.ReconciliationEntry{
		RequestRef:  res.RequestRef,
		PhoneNumber: phone,
		FlowType:    flowType,
		FailedLeg:   leg,
		DebitTxHash: debitHash,
		Amount:      res.TokenAmount.String(),
		Chain:       chainName,
		Detail:      detail,
	}
	if err := o.ledger.CreateReconciliation(ctx, entry); err != nil {
		// Last resort: the condition must never vanish silently.
		o.logger.Error("RECONCILIATION NOT PERSISTED",
			zap.String("request_ref", res.RequestRef),
			zap.String("failed_leg", leg),
			zap.String("detail", detail),
			zap.Error(err))
	}
	o.publish(phone, res.RequestRef, domain.StateReconciliation, detail)
}
