package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/fees"
	"github.com/FidelCoder/GlobeLinkPay/internal/id"
	"github.com/FidelCoder/GlobeLinkPay/internal/pending"
)

// Withdraw runs the token -> mobile-money flow. The user's tokens are
// debited to the platform wallet before the payout is initiated, so a
// failed payout can never leave the platform short; that failure mode is
// a reconciliation condition resolved by an operator, never an automatic
// reversal.
func (o *Orchestrator) Withdraw(ctx context.Context, account *domain.Account, amountKES float64, chainName string) (*Result, error) {
	if amountKES <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !o.chainSupported(chainName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}

	ref := id.NewRef("WD")
	res := &Result{RequestRef: ref, State: domain.StateRequested}

	rate, err := o.rates.GetRate(ctx)
	if err != nil {
		res.State = domain.StateFailed
		return res, domain.NewFlowError(domain.StateRequested, domain.LegRate, err)
	}

	converted := decimal.NewFromFloat(amountKES).Div(rate)
	fee, err := fees.Fee(converted)
	if err != nil {
		res.State = domain.StateFailed
		return res, domain.NewFlowError(domain.StateRequested, domain.LegRate, err)
	}
	debit := converted.Add(fee)

	res.Rate = rate
	res.TokenAmount = converted
	res.Fee = fee
	res.State = domain.StateRateApplied
	o.publish(account.PhoneNumber, ref, domain.StateRateApplied, "rate "+rate.String())

	res.State = domain.StateTokenDebiting
	o.publish(account.PhoneNumber, ref, domain.StateTokenDebiting, "debiting wallet")

	// The debit is the step two concurrent withdrawals must not both
	// reach with the same balance; serialize it per account. The lock
	// does not extend over the payout leg.
	o.locks.Lock(account.PhoneNumber)
	debitHash, err := o.engine.Transfer(ctx, o.platformWalletAddress, debit, chainName, account.SigningKey)
	o.locks.Unlock(account.PhoneNumber)
	if err != nil {
		res.State = domain.StateFailed
		o.publish(account.PhoneNumber, ref, domain.StateFailed, "token debit failed")
		return res, domain.NewFlowError(domain.StateTokenDebiting, domain.LegChain, err)
	}
	res.TxHash = debitHash

	res.State = domain.StateTokenDebited
	o.publish(account.PhoneNumber, ref, domain.StateTokenDebited, "wallet debited")

	res.State = domain.StatePayoutPending
	o.publish(account.PhoneNumber, ref, domain.StatePayoutPending, "payout initiated")

	payout, err := o.gateway.InitiatePayout(ctx, amountKES, account.PhoneNumber)
	if err != nil {
		// Tokens are already gone from the user's wallet. Queue for the
		// operator with the debit reference; do not reverse.
		o.queueReconciliation(ctx, res, account.PhoneNumber, chainName, domain.TxTypeWithdraw, domain.LegPayout, debitHash,
			fmt.Sprintf("debit %s confirmed but payout failed: %v", debitHash, err))
		return res, domain.NewFlowError(domain.StatePayoutPending, domain.LegPayout, err)
	}
	res.GatewayRef = payout.ConversationID

	// The payout result arrives asynchronously; keep the correlation key
	// so the result webhook can flag a late failure.
	o.recordPending(ctx, pending.Operation{
		CorrelationKey: payout.ConversationID,
		RequestRef:     ref,
		FlowType:       domain.TxTypeWithdraw,
		PhoneNumber:    account.PhoneNumber,
		AmountKES:      amountKES,
		Chain:          chainName,
		DebitTxHash:    debitHash,
		CreatedAt:      time.Now(),
	})

	ledgerEntry := &domain.Transaction{
		RequestRef: ref,
		From:       account.WalletAddress,
		To:         "MPESA:" + account.PhoneNumber,
		Amount:     converted.String(),
		Token:      o.tokenSymbol(chainName),
		Chain:      chainName,
		TxHash:     debitHash,
		Type:       domain.TxTypeWithdraw,
	}
	if err := o.ledger.CreateLedgerEntry(ctx, ledgerEntry); err != nil {
		o.logger.Error("ledger write failed after settled withdrawal",
			zap.String("request_ref", ref), zap.Error(err))
		o.queueReconciliation(ctx, res, account.PhoneNumber, chainName, domain.TxTypeWithdraw, domain.LegPayout, debitHash,
			"withdrawal settled but ledger write failed")
	}

	res.State = domain.StateSettled
	o.publish(account.PhoneNumber, ref, domain.StateSettled, "withdrawal settled")
	o.notifyBestEffort(ctx, account.PhoneNumber,
		fmt.Sprintf("Withdrawal complete: KES %.2f on its way to %s", amountKES, account.PhoneNumber))

	o.logger.Info("withdrawal settled",
		zap.String("request_ref", ref),
		zap.String("phone", account.PhoneNumber),
		zap.Float64("amount_kes", amountKES),
		zap.String("debit_tx", debitHash),
		zap.String("conversation_id", payout.ConversationID))

	return res, nil
}
