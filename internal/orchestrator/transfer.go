package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/fees"
	"github.com/FidelCoder/GlobeLinkPay/internal/id"
)

// SendTokens moves tokens from the sender's wallet to another wallet on
// the same chain, charging the tiered fee on top of the sent amount.
// Both legs are on-chain, so a settled flow always has a transfer hash.
func (o *Orchestrator) SendTokens(ctx context.Context, sender *domain.Account, toAddress string, amount decimal.Decimal, chainName string) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !o.chainSupported(chainName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}

	fee, err := fees.Fee(amount)
	if err != nil {
		return nil, err
	}

	ref := id.NewRef("TR")
	res := &Result{RequestRef: ref, State: domain.StateRequested, TokenAmount: amount, Fee: fee}

	o.locks.Lock(sender.PhoneNumber)
	defer o.locks.Unlock(sender.PhoneNumber)

	txHash, err := o.engine.Transfer(ctx, toAddress, amount, chainName, sender.SigningKey)
	if err != nil {
		res.State = domain.StateFailed
		return res, domain.NewFlowError(domain.StateTokenTransferring, domain.LegChain, err)
	}
	res.TxHash = txHash

	if fee.Sign() > 0 {
		if _, err := o.engine.Transfer(ctx, o.platformWalletAddress, fee, chainName, sender.SigningKey); err != nil {
			// The principal moved; an uncollected fee is an operator
			// problem, not the sender's.
			o.logger.Warn("fee collection failed",
				zap.String("request_ref", ref), zap.Error(err))
		}
	}

	ledgerEntry := &domain.Transaction{
		RequestRef: ref,
		From:       sender.WalletAddress,
		To:         toAddress,
		Amount:     amount.String(),
		Token:      o.tokenSymbol(chainName),
		Chain:      chainName,
		TxHash:     txHash,
		Type:       domain.TxTypeTransfer,
	}
	if err := o.ledger.CreateLedgerEntry(ctx, ledgerEntry); err != nil {
		o.logger.Error("ledger write failed after settled transfer",
			zap.String("request_ref", ref), zap.Error(err))
	}

	res.State = domain.StateSettled
	o.publish(sender.PhoneNumber, ref, domain.StateSettled, "transfer settled")
	return res, nil
}

// TransferToPersonal moves funds from a merchant account's wallet to its
// owner's personal wallet. The merchant wallet signs the transfer; no fee
// is charged on moving money between a business and its owner.
func (o *Orchestrator) TransferToPersonal(ctx context.Context, merchant *domain.MerchantAccount, owner *domain.Account, amount decimal.Decimal, chainName string) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !o.chainSupported(chainName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}
	if merchant.DefaultChain != chainName {
		return nil, fmt.Errorf("%w: merchant wallet is on %s, not %s",
			domain.ErrValidation, merchant.DefaultChain, chainName)
	}

	ref := id.NewRef("BT")
	res := &Result{RequestRef: ref, State: domain.StateRequested, TokenAmount: amount}

	o.locks.Lock(merchant.MerchantID)
	defer o.locks.Unlock(merchant.MerchantID)

	txHash, err := o.engine.Transfer(ctx, owner.WalletAddress, amount, chainName, merchant.SigningKey)
	if err != nil {
		res.State = domain.StateFailed
		return res, domain.NewFlowError(domain.StateTokenTransferring, domain.LegChain, err)
	}
	res.TxHash = txHash

	ledgerEntry := &domain.Transaction{
		RequestRef: ref,
		From:       merchant.WalletAddress,
		To:         owner.WalletAddress,
		Amount:     amount.String(),
		Token:      o.tokenSymbol(chainName),
		Chain:      chainName,
		TxHash:     txHash,
		Type:       domain.TxTypeTransfer,
	}
	if err := o.ledger.CreateLedgerEntry(ctx, ledgerEntry); err != nil {
		o.logger.Error("ledger write failed after settled transfer",
			zap.String("request_ref", ref), zap.Error(err))
	}

	res.State = domain.StateSettled
	o.publish(owner.PhoneNumber, ref, domain.StateSettled, "business funds transferred")
	return res, nil
}

// PayMerchant pays a merchant account's wallet, recorded as a payment
// flow.
func (o *Orchestrator) PayMerchant(ctx context.Context, sender *domain.Account, merchant *domain.MerchantAccount, amount decimal.Decimal, chainName string) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if !o.chainSupported(chainName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}

	ref := id.NewRef("PM")
	res := &Result{RequestRef: ref, State: domain.StateRequested, TokenAmount: amount}

	o.locks.Lock(sender.PhoneNumber)
	defer o.locks.Unlock(sender.PhoneNumber)

	txHash, err := o.engine.Transfer(ctx, merchant.WalletAddress, amount, chainName, sender.SigningKey)
	if err != nil {
		res.State = domain.StateFailed
		return res, domain.NewFlowError(domain.StateTokenTransferring, domain.LegChain, err)
	}
	res.TxHash = txHash

	ledgerEntry := &domain.Transaction{
		RequestRef: ref,
		From:       sender.WalletAddress,
		To:         merchant.MerchantID,
		Amount:     amount.String(),
		Token:      o.tokenSymbol(chainName),
		Chain:      chainName,
		TxHash:     txHash,
		Type:       domain.TxTypePayment,
	}
	if err := o.ledger.CreateLedgerEntry(ctx, ledgerEntry); err != nil {
		o.logger.Error("ledger write failed after settled payment",
			zap.String("request_ref", ref), zap.Error(err))
	}

	res.State = domain.StateSettled
	o.publish(sender.PhoneNumber, ref, domain.StateSettled, "payment settled")
	o.notifyBestEffort(ctx, merchant.PhoneNumber,
		fmt.Sprintf("Payment received: %s %s from %s", amount.String(), o.tokenSymbol(chainName), sender.PhoneNumber))
	return res, nil
}
