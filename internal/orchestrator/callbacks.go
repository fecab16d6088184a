package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/repository"
)

// AccountReader is the subset of account access callbacks need.
type AccountReader interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
}

var _ AccountReader = (*repository.AccountRepo)(nil)

// HandleCollectionResult settles or fails a deposit whose synchronous
// poll window closed without a result. An unknown correlation key is not
// an error: either the flow already settled in-band or the key has aged
// out.
func (o *Orchestrator) HandleCollectionResult(ctx context.Context, accounts AccountReader, correlationKey string, resultCode int, resultDesc string) error {
	op, err := o.pendings.Get(ctx, correlationKey)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Info("collection callback with no matching flow",
			zap.String("correlation_key", correlationKey),
			zap.Int("result_code", resultCode))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = o.pendings.Delete(ctx, correlationKey) }()

	if resultCode != 0 {
		o.logger.Info("collection failed via callback",
			zap.String("request_ref", op.RequestRef),
			zap.Int("result_code", resultCode),
			zap.String("result_desc", resultDesc))
		o.publish(op.PhoneNumber, op.RequestRef, domain.StateFailed, resultDesc)
		return nil
	}

	account, err := accounts.GetByPhone(ctx, op.PhoneNumber)
	if err != nil {
		return fmt.Errorf("collection confirmed for unknown account %s: %w", op.PhoneNumber, err)
	}

	res := &Result{
		RequestRef: op.RequestRef,
		State:      domain.StateCollectionConfirmed,
		GatewayRef: correlationKey,
	}
	o.publish(op.PhoneNumber, op.RequestRef, domain.StateCollectionConfirmed, "funds collected (late confirmation)")

	_, err = o.settleDeposit(ctx, op.PhoneNumber, account.WalletAddress, op.AmountKES, op.Chain, res)
	return err
}

// HandlePayoutResult processes the asynchronous B2C outcome for an
// already-initiated withdrawal. A failed payout after the confirmed
// debit goes to the reconciliation queue.
func (o *Orchestrator) HandlePayoutResult(ctx context.Context, correlationKey string, resultCode int, resultDesc string) error {
	op, err := o.pendings.Get(ctx, correlationKey)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Info("payout callback with no matching flow",
			zap.String("correlation_key", correlationKey),
			zap.Int("result_code", resultCode))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = o.pendings.Delete(ctx, correlationKey) }()

	if resultCode == 0 {
		o.publish(op.PhoneNumber, op.RequestRef, domain.StateSettled, "payout confirmed")
		return nil
	}

	res := &Result{RequestRef: op.RequestRef, State: domain.StatePayoutPending, GatewayRef: correlationKey}
	o.queueReconciliation(ctx, res, op.PhoneNumber, op.Chain, op.FlowType, domain.LegPayout, op.DebitTxHash,
		fmt.Sprintf("payout result %d after confirmed debit %s: %s", resultCode, op.DebitTxHash, resultDesc))
	return nil
}

// HandleQueueTimeout records that the provider gave up queueing a payout
// request. The debited flow becomes a reconciliation entry.
func (o *Orchestrator) HandleQueueTimeout(ctx context.Context, correlationKey string) error {
	op, err := o.pendings.Get(ctx, correlationKey)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Info("queue timeout with no matching flow",
			zap.String("correlation_key", correlationKey))
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = o.pendings.Delete(ctx, correlationKey) }()

	if op.FlowType == domain.TxTypeWithdraw && op.DebitTxHash != "" {
		res := &Result{RequestRef: op.RequestRef, State: domain.StatePayoutPending, GatewayRef: correlationKey}
		o.queueReconciliation(ctx, res, op.PhoneNumber, op.Chain, op.FlowType, domain.LegPayout, op.DebitTxHash,
			fmt.Sprintf("provider queue timeout after confirmed debit %s", op.DebitTxHash))
		return nil
	}

	o.publish(op.PhoneNumber, op.RequestRef, domain.StateFailed, "provider queue timeout")
	return nil
}
