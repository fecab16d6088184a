package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/config"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// erc20Client is the ERC-20 surface the engine drives. The production
// implementation speaks JSON-RPC through ethclient; tests substitute a
// fake to pin down call ordering.
type erc20Client interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, spender common.Address, amount *big.Int) (common.Hash, error)
	Transfer(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error)
	TransferFrom(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, from, to common.Address, amount *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, tx common.Hash) error
	Close()
}

// Engine moves tokens on a per-chain ERC-20 contract on behalf of a fund
// owner identified by a delegated signing key. Movements the owner did
// not pre-authorize go through an approve step that is always confirmed
// before the transfer itself.
type Engine struct {
	chains      map[string]config.ChainConfig
	executorKey *ecdsa.PrivateKey
	dial        func(ctx context.Context, cfg config.ChainConfig) (erc20Client, error)
	logger      *zap.Logger
}

func NewEngine(chains map[string]config.ChainConfig, executorKeyHex string, logger *zap.Logger) (*Engine, error) {
	key, err := parseKey(executorKeyHex)
	if err != nil {
		return nil, fmt.Errorf("executor key: %w", err)
	}
	return &Engine{
		chains:      chains,
		executorKey: key,
		dial:        dialRPC,
		logger:      logger,
	}, nil
}

// DeriveAddress returns the account address controlled by a signing key.
func DeriveAddress(signingKeyHex string) (string, error) {
	key, err := parseKey(signingKeyHex)
	if err != nil {
		return "", err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Transfer moves amount (token units) from the account behind signingKey
// to toAddress and returns the transfer transaction hash once the network
// accepts it.
func (e *Engine) Transfer(ctx context.Context, toAddress string, amount decimal.Decimal, chainName, signingKeyHex string) (string, error) {
	if !common.IsHexAddress(toAddress) || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: recipient and positive amount required", domain.ErrValidation)
	}

	cfg, ok := e.chains[chainName]
	if !ok || cfg.TokenAddress == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}

	ownerKey, err := parseKey(signingKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad signing key", domain.ErrValidation)
	}

	client, err := e.dial(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrChainUnavailable, err)
	}
	defer client.Close()

	token := common.HexToAddress(cfg.TokenAddress)
	owner := ethcrypto.PubkeyToAddress(ownerKey.PublicKey)
	executor := ethcrypto.PubkeyToAddress(e.executorKey.PublicKey)
	to := common.HexToAddress(toAddress)
	units := toUnits(amount, cfg.TokenDecimals)

	balance, err := client.BalanceOf(ctx, token, owner)
	if err != nil {
		return "", fmt.Errorf("%w: balance read: %v", domain.ErrChainUnavailable, err)
	}
	if balance.Cmp(units) < 0 {
		return "", fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientFunds, balance, units)
	}

	// The executor moving its own funds is a plain transfer; no
	// allowance is involved.
	if owner == executor {
		hash, err := client.Transfer(ctx, token, e.executorKey, to, units)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrTransferRejected, err)
		}
		return hash.Hex(), nil
	}

	allowance, err := client.Allowance(ctx, token, owner, executor)
	if err != nil {
		// A failed read counts as zero so we always approve rather than
		// ever attempting a transfer against unknown allowance.
		e.logger.Warn("allowance read failed, assuming zero",
			zap.String("chain", chainName), zap.Error(err))
		allowance = big.NewInt(0)
	}

	if allowance.Cmp(units) < 0 {
		approveHash, err := client.Approve(ctx, token, ownerKey, executor, units)
		if err != nil {
			return "", fmt.Errorf("%w: approve: %v", domain.ErrTransferRejected, err)
		}
		e.logger.Info("approval submitted",
			zap.String("chain", chainName),
			zap.String("tx", approveHash.Hex()))
		// Hard ordering requirement: the transfer is never attempted
		// until the approval is mined.
		if err := client.WaitMined(ctx, approveHash); err != nil {
			return "", fmt.Errorf("%w: approve unconfirmed: %v", domain.ErrTransferRejected, err)
		}
	}

	hash, err := client.TransferFrom(ctx, token, e.executorKey, owner, to, units)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransferRejected, err)
	}

	e.logger.Info("token transfer submitted",
		zap.String("chain", chainName),
		zap.String("from", owner.Hex()),
		zap.String("to", toAddress),
		zap.String("amount", amount.String()),
		zap.String("tx", hash.Hex()))

	return hash.Hex(), nil
}

// BalanceOf reads the token balance of an address, in token units.
func (e *Engine) BalanceOf(ctx context.Context, chainName, address string) (decimal.Decimal, error) {
	cfg, ok := e.chains[chainName]
	if !ok || cfg.TokenAddress == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainName)
	}
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("%w: bad address", domain.ErrValidation)
	}

	client, err := e.dial(ctx, cfg)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrChainUnavailable, err)
	}
	defer client.Close()

	raw, err := client.BalanceOf(ctx, common.HexToAddress(cfg.TokenAddress), common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrChainUnavailable, err)
	}
	return fromUnits(raw, cfg.TokenDecimals), nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 1 && hexKey[0:2] == "0x" {
		hexKey = hexKey[2:]
	}
	return ethcrypto.HexToECDSA(hexKey)
}

func toUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

func fromUnits(raw *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals))
}
