package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/config"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

type fakeClient struct {
	balance      *big.Int
	allowance    *big.Int
	allowanceErr error
	approveErr   error
	transferErr  error
	waitErr      error

	calls []string
}

func (f *fakeClient) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.calls = append(f.calls, "balanceOf")
	return f.balance, nil
}

func (f *fakeClient) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.calls = append(f.calls, "allowance")
	if f.allowanceErr != nil {
		return nil, f.allowanceErr
	}
	return f.allowance, nil
}

func (f *fakeClient) Approve(context.Context, common.Address, *ecdsa.PrivateKey, common.Address, *big.Int) (common.Hash, error) {
	f.calls = append(f.calls, "approve")
	if f.approveErr != nil {
		return common.Hash{}, f.approveErr
	}
	return common.HexToHash("0xaa"), nil
}

func (f *fakeClient) Transfer(context.Context, common.Address, *ecdsa.PrivateKey, common.Address, *big.Int) (common.Hash, error) {
	f.calls = append(f.calls, "transfer")
	if f.transferErr != nil {
		return common.Hash{}, f.transferErr
	}
	return common.HexToHash("0xbb"), nil
}

func (f *fakeClient) TransferFrom(context.Context, common.Address, *ecdsa.PrivateKey, common.Address, common.Address, *big.Int) (common.Hash, error) {
	f.calls = append(f.calls, "transferFrom")
	if f.transferErr != nil {
		return common.Hash{}, f.transferErr
	}
	return common.HexToHash("0xcc"), nil
}

func (f *fakeClient) WaitMined(context.Context, common.Hash) error {
	f.calls = append(f.calls, "waitMined")
	return f.waitErr
}

func (f *fakeClient) Close() {}

const (
	testExecutorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testOwnerKey    = "6370fd033278c143179d81c5526140625662b8daa446c22ee2d73db3707e620c"
)

func newTestEngine(t *testing.T, fake *fakeClient) *Engine {
	t.Helper()
	chains := map[string]config.ChainConfig{
		"world": {
			ChainID:       480,
			RPCURL:        "http://unused",
			TokenAddress:  "0x1111111111111111111111111111111111111111",
			TokenSymbol:   "USDC",
			TokenDecimals: 6,
		},
	}
	e, err := NewEngine(chains, testExecutorKey, zap.NewNop())
	require.NoError(t, err)
	e.dial = func(context.Context, config.ChainConfig) (erc20Client, error) {
		return fake, nil
	}
	return e
}

func million(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)) }

func TestTransferApprovesBeforeTransferWhenAllowanceShort(t *testing.T) {
	fake := &fakeClient{balance: million(100), allowance: million(1)}
	e := newTestEngine(t, fake)

	hash, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testOwnerKey)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.Equal(t, []string{"balanceOf", "allowance", "approve", "waitMined", "transferFrom"}, fake.calls)
}

func TestTransferSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	fake := &fakeClient{balance: million(100), allowance: million(50)}
	e := newTestEngine(t, fake)

	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testOwnerKey)
	require.NoError(t, err)

	assert.Equal(t, []string{"balanceOf", "allowance", "transferFrom"}, fake.calls)
	assert.NotContains(t, fake.calls, "approve")
}

func TestTransferFailedAllowanceReadForcesApproval(t *testing.T) {
	fake := &fakeClient{balance: million(100), allowance: million(50), allowanceErr: errors.New("rpc flake")}
	e := newTestEngine(t, fake)

	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testOwnerKey)
	require.NoError(t, err)

	assert.Contains(t, fake.calls, "approve", "unknown allowance must fail toward approval")
}

func TestTransferExecutorOwnFundsDirect(t *testing.T) {
	fake := &fakeClient{balance: million(100)}
	e := newTestEngine(t, fake)

	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testExecutorKey)
	require.NoError(t, err)

	assert.Equal(t, []string{"balanceOf", "transfer"}, fake.calls)
}

func TestTransferInsufficientBalance(t *testing.T) {
	fake := &fakeClient{balance: million(5), allowance: million(50)}
	e := newTestEngine(t, fake)

	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testOwnerKey)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.NotContains(t, fake.calls, "transferFrom")
}

func TestTransferUnsupportedChain(t *testing.T) {
	e := newTestEngine(t, &fakeClient{})
	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "solana", testOwnerKey)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestTransferUnconfirmedApprovalAborts(t *testing.T) {
	fake := &fakeClient{balance: million(100), allowance: million(0), waitErr: errors.New("timeout")}
	e := newTestEngine(t, fake)

	_, err := e.Transfer(context.Background(),
		"0x2222222222222222222222222222222222222222",
		decimal.NewFromInt(10), "world", testOwnerKey)
	assert.ErrorIs(t, err, domain.ErrTransferRejected)
	assert.NotContains(t, fake.calls, "transferFrom")
}

func TestDeriveAddress(t *testing.T) {
	addr, err := DeriveAddress(testOwnerKey)
	require.NoError(t, err)

	key, err := ethcrypto.HexToECDSA(testOwnerKey)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), addr)
}
