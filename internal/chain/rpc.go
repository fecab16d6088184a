package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/FidelCoder/GlobeLinkPay/internal/config"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// rpcClient is the ethclient-backed erc20Client.
type rpcClient struct {
	eth     *ethclient.Client
	chainID *big.Int
}

func dialRPC(ctx context.Context, cfg config.ChainConfig) (erc20Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return &rpcClient{eth: eth, chainID: big.NewInt(cfg.ChainID)}, nil
}

func (c *rpcClient) Close() { c.eth.Close() }

func (c *rpcClient) call(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	results, err := parsedERC20.Unpack(method, out)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("unpack %s: %v", method, err)
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type", method)
	}
	return value, nil
}

func (c *rpcClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.call(ctx, token, "balanceOf", owner)
}

func (c *rpcClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.call(ctx, token, "allowance", owner, spender)
}

func (c *rpcClient) send(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func (c *rpcClient) Approve(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.send(ctx, token, key, "approve", spender, amount)
}

func (c *rpcClient) Transfer(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.send(ctx, token, key, "transfer", to, amount)
}

func (c *rpcClient) TransferFrom(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, from, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.send(ctx, token, key, "transferFrom", from, to, amount)
}

// WaitMined polls for the receipt until the transaction lands or ctx
// expires. A reverted receipt is a failure.
func (c *rpcClient) WaitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}
		if err != ethereum.NotFound {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
