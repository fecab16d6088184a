package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/config"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/pending"
	"github.com/FidelCoder/GlobeLinkPay/internal/provider/mpesa"
)

// callLog records cross-component call ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeRates struct {
	log  *callLog
	rate decimal.Decimal
	err  error
}

func (f *fakeRates) GetRate(context.Context) (decimal.Decimal, error) {
	f.log.add("rate")
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}

type fakeGateway struct {
	log        *callLog
	submitErr  error
	confirmErr error
	payoutErr  error
}

func (f *fakeGateway) InitiateCollection(_ context.Context, _ string, _ float64, _ string) (*mpesa.CollectionResult, error) {
	f.log.add("collection")
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &mpesa.CollectionResult{CheckoutRequestID: "ws_CO_1"}, nil
}

func (f *fakeGateway) WaitForCollection(_ context.Context, checkoutRequestID string) (*mpesa.CollectionResult, error) {
	f.log.add("confirm")
	res := &mpesa.CollectionResult{CheckoutRequestID: checkoutRequestID, ResultCode: "0"}
	if f.confirmErr != nil {
		return res, f.confirmErr
	}
	return res, nil
}

func (f *fakeGateway) InitiatePayout(_ context.Context, _ float64, _ string) (*mpesa.PayoutResult, error) {
	f.log.add("payout")
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &mpesa.PayoutResult{ConversationID: "AG_7"}, nil
}

type fakeEngine struct {
	log         *callLog
	err         error
	inDebit     int
	maxInDebit  int
	debitGuard  sync.Mutex
	transferred []decimal.Decimal
}

func (f *fakeEngine) Transfer(_ context.Context, _ string, amount decimal.Decimal, _, _ string) (string, error) {
	f.log.add("transfer")
	f.debitGuard.Lock()
	f.inDebit++
	if f.inDebit > f.maxInDebit {
		f.maxInDebit = f.inDebit
	}
	f.transferred = append(f.transferred, amount)
	f.debitGuard.Unlock()

	time.Sleep(time.Millisecond)

	f.debitGuard.Lock()
	f.inDebit--
	f.debitGuard.Unlock()

	if f.err != nil {
		return "", f.err
	}
	return "0xdeadbeef", nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []domain.Transaction
	recons  []domain.ReconciliationEntry
}

func (f *fakeLedger) CreateLedgerEntry(_ context.Context, tx *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *tx)
	return nil
}

func (f *fakeLedger) CreateReconciliation(_ context.Context, e *domain.ReconciliationEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recons = append(f.recons, *e)
	return nil
}

type fixture struct {
	log      *callLog
	rates    *fakeRates
	gateway  *fakeGateway
	engine   *fakeEngine
	ledger   *fakeLedger
	pendings *pending.MemoryStore
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		log:      log,
		rates:    &fakeRates{log: log, rate: decimal.NewFromInt(130)},
		gateway:  &fakeGateway{log: log},
		engine:   &fakeEngine{log: log},
		ledger:   &fakeLedger{},
		pendings: pending.NewMemoryStore(),
	}
	f.orch = New(Deps{
		Rates:    f.rates,
		Gateway:  f.gateway,
		Engine:   f.engine,
		Ledger:   f.ledger,
		Pendings: f.pendings,
		Logger:   zap.NewNop(),
		Chains: map[string]config.ChainConfig{
			"world": {ChainID: 480, TokenSymbol: "USDC", TokenDecimals: 6},
		},
		PlatformWalletAddress: "0x9999999999999999999999999999999999999999",
		PlatformSigningKey:    "platform-key",
	})
	return f
}

func testAccount() *domain.Account {
	return &domain.Account{
		ID:            1,
		PhoneNumber:   "254711000000",
		WalletAddress: "0x1234567890123456789012345678901234567890",
		SigningKey:    "user-key",
		DefaultChain:  "world",
	}
}

func TestDepositSettles(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Deposit(context.Background(), testAccount(), 1000, "world")
	require.NoError(t, err)

	assert.Equal(t, domain.StateSettled, res.State)
	assert.Equal(t, "0xdeadbeef", res.TxHash)

	// 1000 KES at 130 KES/token is ~7.692 tokens, in the 0.10 fee band.
	converted := decimal.NewFromInt(1000).Div(decimal.NewFromInt(130))
	wantCredit := converted.Sub(decimal.RequireFromString("0.10"))
	assert.True(t, res.TokenAmount.Equal(wantCredit), "credit %s want %s", res.TokenAmount, wantCredit)

	require.Len(t, f.ledger.entries, 1)
	entry := f.ledger.entries[0]
	assert.Equal(t, domain.TxTypeDeposit, entry.Type)
	assert.Equal(t, "world", entry.Chain)
	assert.Equal(t, wantCredit.String(), entry.Amount)
	assert.Equal(t, "MPESA:254711000000", entry.From)

	// Collection must confirm before the rate is consulted.
	assert.Equal(t, []string{"collection", "confirm", "rate", "transfer"}, f.log.snapshot())

	_, err = f.pendings.Get(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "settled deposit must clear its correlation key")
}

func TestDepositSubmissionRejectedStopsFlow(t *testing.T) {
	f := newFixture(t)
	f.gateway.submitErr = fmt.Errorf("%w: insufficient balance", domain.ErrGatewayRejected)

	res, err := f.orch.Deposit(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, domain.StateFailed, res.State)

	var flowErr *domain.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, domain.LegCollection, flowErr.Leg)

	assert.Equal(t, []string{"collection"}, f.log.snapshot(),
		"no confirmation wait after a rejected submission")
	assert.Empty(t, f.ledger.entries)
	assert.Empty(t, f.ledger.recons)

	_, err = f.pendings.Get(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing in flight, nothing to correlate")
}

func TestDepositCollectionRejectedStopsFlow(t *testing.T) {
	f := newFixture(t)
	f.gateway.confirmErr = fmt.Errorf("%w: cancelled by user", domain.ErrGatewayRejected)

	res, err := f.orch.Deposit(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, domain.StateFailed, res.State)

	assert.Equal(t, []string{"collection", "confirm"}, f.log.snapshot(),
		"no rate lookup and no transfer after a failed collection")
	assert.Empty(t, f.ledger.entries)
	assert.Empty(t, f.ledger.recons)

	_, err = f.pendings.Get(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "a conclusive decline clears the correlation key")
}

func TestDepositTimeoutLeavesPendingOperation(t *testing.T) {
	f := newFixture(t)
	f.gateway.confirmErr = fmt.Errorf("%w: no result", domain.ErrGatewayTimeout)

	_, err := f.orch.Deposit(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)

	op, err := f.pendings.Get(context.Background(), "ws_CO_1")
	require.NoError(t, err, "timeout must leave the correlation key matchable")
	assert.Equal(t, domain.TxTypeDeposit, op.FlowType)
	assert.Empty(t, f.ledger.entries)
}

func TestDepositAbandonedMidConfirmStaysMatchable(t *testing.T) {
	f := newFixture(t)
	account := testAccount()
	f.gateway.confirmErr = context.Canceled

	_, err := f.orch.Deposit(context.Background(), account, 1000, "world")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ledger.entries)

	op, err := f.pendings.Get(context.Background(), "ws_CO_1")
	require.NoError(t, err, "an abandoned wait must not lose the correlation key")
	assert.Equal(t, account.PhoneNumber, op.PhoneNumber)
	assert.EqualValues(t, 1000, op.AmountKES)

	// The caller is gone, but the money was collected; the webhook must
	// still be able to settle the flow.
	err = f.orch.HandleCollectionResult(context.Background(), &fakeAccounts{account: account}, "ws_CO_1", 0, "ok")
	require.NoError(t, err)
	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, op.RequestRef, f.ledger.entries[0].RequestRef)
}

func TestDepositTokenFailureAfterCollectionQueuesReconciliation(t *testing.T) {
	f := newFixture(t)
	f.engine.err = fmt.Errorf("%w: rpc down", domain.ErrChainUnavailable)

	res, err := f.orch.Deposit(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
	assert.Equal(t, domain.StateReconciliation, res.State)

	require.Len(t, f.ledger.recons, 1)
	assert.Equal(t, domain.LegChain, f.ledger.recons[0].FailedLeg)
	assert.Equal(t, domain.TxTypeDeposit, f.ledger.recons[0].FlowType)
	assert.Empty(t, f.ledger.entries, "no ledger entry for an unsettled flow")
}

func TestWithdrawDebitsBeforePayout(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Withdraw(context.Background(), testAccount(), 1000, "world")
	require.NoError(t, err)

	assert.Equal(t, domain.StateSettled, res.State)
	assert.Equal(t, []string{"rate", "transfer", "payout"}, f.log.snapshot())

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, domain.TxTypeWithdraw, f.ledger.entries[0].Type)
	assert.Equal(t, "0xdeadbeef", f.ledger.entries[0].TxHash)

	op, err := f.pendings.Get(context.Background(), "AG_7")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", op.DebitTxHash)
}

func TestWithdrawPayoutRejectedQueuesReconciliation(t *testing.T) {
	f := newFixture(t)
	f.gateway.payoutErr = fmt.Errorf("%w: initiator blocked", domain.ErrGatewayRejected)

	res, err := f.orch.Withdraw(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, domain.StateReconciliation, res.State)

	require.Len(t, f.ledger.recons, 1)
	recon := f.ledger.recons[0]
	assert.Equal(t, domain.LegPayout, recon.FailedLeg)
	assert.Equal(t, domain.TxTypeWithdraw, recon.FlowType)
	assert.Equal(t, "0xdeadbeef", recon.DebitTxHash, "reconciliation must carry the debit reference")
	assert.Empty(t, f.ledger.entries)
}

func TestWithdrawRateFailureAbortsBeforeDebit(t *testing.T) {
	f := newFixture(t)
	f.rates.err = domain.ErrRateUnavailable

	res, err := f.orch.Withdraw(context.Background(), testAccount(), 1000, "world")
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)
	assert.Equal(t, domain.StateFailed, res.State)
	assert.Equal(t, []string{"rate"}, f.log.snapshot())
	assert.Empty(t, f.ledger.entries)
	assert.Empty(t, f.ledger.recons)
}

func TestWithdrawUnsupportedChain(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Withdraw(context.Background(), testAccount(), 1000, "solana")
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestConcurrentWithdrawalsSerializeDebit(t *testing.T) {
	f := newFixture(t)
	account := testAccount()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Withdraw(context.Background(), account, 100, "world")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.engine.maxInDebit,
		"debit steps for one account must never overlap")
}

type fakeAccounts struct{ account *domain.Account }

func (f *fakeAccounts) GetByPhone(_ context.Context, phone string) (*domain.Account, error) {
	if f.account != nil && f.account.PhoneNumber == phone {
		return f.account, nil
	}
	return nil, domain.ErrNotFound
}

func TestHandleCollectionResultUnknownKeyIsNotAnError(t *testing.T) {
	f := newFixture(t)
	err := f.orch.HandleCollectionResult(context.Background(), &fakeAccounts{}, "ws_CO_unknown", 0, "ok")
	assert.NoError(t, err)
	assert.Empty(t, f.ledger.entries)
}

func TestHandleCollectionResultSettlesLateDeposit(t *testing.T) {
	f := newFixture(t)
	account := testAccount()
	require.NoError(t, f.pendings.Put(context.Background(), pending.Operation{
		CorrelationKey: "ws_CO_9",
		RequestRef:     "DP-LATE",
		FlowType:       domain.TxTypeDeposit,
		PhoneNumber:    account.PhoneNumber,
		AmountKES:      1000,
		Chain:          "world",
	}, time.Minute))

	err := f.orch.HandleCollectionResult(context.Background(), &fakeAccounts{account: account}, "ws_CO_9", 0, "ok")
	require.NoError(t, err)

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, "DP-LATE", f.ledger.entries[0].RequestRef)

	_, err = f.pendings.Get(context.Background(), "ws_CO_9")
	assert.ErrorIs(t, err, domain.ErrNotFound, "settled operation must be cleared")
}

func TestHandleCollectionResultFailureClearsPending(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pendings.Put(context.Background(), pending.Operation{
		CorrelationKey: "ws_CO_8",
		RequestRef:     "DP-FAIL",
		FlowType:       domain.TxTypeDeposit,
		PhoneNumber:    "254711000000",
		AmountKES:      1000,
		Chain:          "world",
	}, time.Minute))

	err := f.orch.HandleCollectionResult(context.Background(), &fakeAccounts{}, "ws_CO_8", 1032, "cancelled")
	require.NoError(t, err)
	assert.Empty(t, f.ledger.entries)

	_, err = f.pendings.Get(context.Background(), "ws_CO_8")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandlePayoutResultFailureQueuesReconciliation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pendings.Put(context.Background(), pending.Operation{
		CorrelationKey: "AG_1",
		RequestRef:     "WD-X",
		FlowType:       domain.TxTypeWithdraw,
		PhoneNumber:    "254711000000",
		AmountKES:      500,
		Chain:          "world",
		DebitTxHash:    "0xfeed",
	}, time.Minute))

	require.NoError(t, f.orch.HandlePayoutResult(context.Background(), "AG_1", 2001, "insufficient float"))

	require.Len(t, f.ledger.recons, 1)
	assert.Equal(t, "0xfeed", f.ledger.recons[0].DebitTxHash)
	assert.Equal(t, domain.TxTypeWithdraw, f.ledger.recons[0].FlowType)
}

func TestSendTokensAppliesFeeAndWritesLedger(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.SendTokens(context.Background(), testAccount(),
		"0x2222222222222222222222222222222222222222", decimal.NewFromInt(20), "world")
	require.NoError(t, err)

	assert.Equal(t, domain.StateSettled, res.State)
	assert.True(t, res.Fee.Equal(decimal.RequireFromString("0.30")))

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, domain.TxTypeTransfer, f.ledger.entries[0].Type)

	// Principal then fee.
	require.Len(t, f.engine.transferred, 2)
	assert.True(t, f.engine.transferred[0].Equal(decimal.NewFromInt(20)))
	assert.True(t, f.engine.transferred[1].Equal(decimal.RequireFromString("0.30")))
}

func testMerchant() *domain.MerchantAccount {
	return &domain.MerchantAccount{
		ID:            7,
		MerchantID:    "MRC-001",
		BusinessName:  "Mama Mboga Supplies",
		OwnerID:       1,
		PhoneNumber:   "254722000000",
		WalletAddress: "0x3333333333333333333333333333333333333333",
		SigningKey:    "merchant-key",
		DefaultChain:  "world",
	}
}

func TestTransferToPersonalSettles(t *testing.T) {
	f := newFixture(t)
	owner := testAccount()
	merchant := testMerchant()

	res, err := f.orch.TransferToPersonal(context.Background(), merchant, owner, decimal.NewFromInt(40), "world")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, res.State)

	require.Len(t, f.ledger.entries, 1)
	entry := f.ledger.entries[0]
	assert.Equal(t, domain.TxTypeTransfer, entry.Type)
	assert.Equal(t, merchant.WalletAddress, entry.From)
	assert.Equal(t, owner.WalletAddress, entry.To)

	// Business-to-owner moves are not fee-bearing: one transfer only.
	require.Len(t, f.engine.transferred, 1)
	assert.True(t, f.engine.transferred[0].Equal(decimal.NewFromInt(40)))
}

func TestTransferToPersonalChainMismatch(t *testing.T) {
	f := newFixture(t)
	merchant := testMerchant()
	merchant.DefaultChain = "mantle"

	_, err := f.orch.TransferToPersonal(context.Background(), merchant, testAccount(), decimal.NewFromInt(10), "world")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.engine.transferred)
	assert.Empty(t, f.ledger.entries)
}

func TestFlowErrorPreservesLeg(t *testing.T) {
	err := domain.NewFlowError(domain.StatePayoutPending, domain.LegPayout, domain.ErrGatewayRejected)
	var flowErr *domain.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, domain.LegPayout, flowErr.Leg)
	assert.True(t, errors.Is(err, domain.ErrGatewayRejected))
}
