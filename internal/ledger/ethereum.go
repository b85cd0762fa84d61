package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const oracleWriteABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"assetId","type":"bytes32"},{"internalType":"string","name":"reason","type":"string"}],"name":"flagAnomaly","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"assetId","type":"bytes32"}],"name":"clearAnomaly","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var oracleWriteABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleWriteABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleWriteABI = parsed
}

// Backend is the subset of ethclient.Client used to submit and confirm transactions.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumOptions parameterise the on-chain ledger.
type EthereumOptions struct {
	RPCURL         string
	OracleAddress  string
	PrivateKey     string
	ChainID        int64
	FlagGasLimit   uint64
	ClearGasLimit  uint64
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Ethereum submits flagAnomaly/clearAnomaly transactions to the oracle contract.
type Ethereum struct {
	opts    EthereumOptions
	logger  zerolog.Logger
	key     *ecdsa.PrivateKey
	from    common.Address
	address common.Address

	backend    Backend
	backendMux sync.Mutex
	chainID    *big.Int

	// sendMux serialises nonce allocation for the single signing account.
	sendMux sync.Mutex
}

// NewEthereum validates the signing key and builds the ledger. The RPC
// connection is dialled lazily.
func NewEthereum(opts EthereumOptions, logger zerolog.Logger) (*Ethereum, error) {
	if opts.OracleAddress == "" {
		return nil, errors.New("oracle contract address not configured")
	}
	if !common.IsHexAddress(opts.OracleAddress) {
		return nil, fmt.Errorf("invalid oracle address %q", opts.OracleAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if opts.FlagGasLimit == 0 {
		opts.FlagGasLimit = 200_000
	}
	if opts.ClearGasLimit == 0 {
		opts.ClearGasLimit = 100_000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	e := &Ethereum{
		opts:    opts,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		address: common.HexToAddress(opts.OracleAddress),
	}
	e.logger = logger.With().Str("component", "ledger_ethereum").Str("from", e.from.Hex()).Logger()
	if opts.ChainID > 0 {
		e.chainID = big.NewInt(opts.ChainID)
	}
	return e, nil
}

// WithBackend injects a pre-built backend, bypassing the dial.
func (e *Ethereum) WithBackend(b Backend) *Ethereum {
	e.backendMux.Lock()
	defer e.backendMux.Unlock()
	e.backend = b
	return e
}

// From returns the signing account.
func (e *Ethereum) From() common.Address { return e.from }

// Flag sends flagAnomaly(assetId, reason) and waits for the receipt.
func (e *Ethereum) Flag(ctx context.Context, asset, reason string) (Receipt, error) {
	data, err := oracleWriteABI.Pack("flagAnomaly", AssetID(asset), reason)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack flagAnomaly: %w", err)
	}
	return e.transact(ctx, asset, "flag", data, e.opts.FlagGasLimit)
}

// Clear sends clearAnomaly(assetId) and waits for the receipt.
func (e *Ethereum) Clear(ctx context.Context, asset string) (Receipt, error) {
	data, err := oracleWriteABI.Pack("clearAnomaly", AssetID(asset))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack clearAnomaly: %w", err)
	}
	return e.transact(ctx, asset, "clear", data, e.opts.ClearGasLimit)
}

func (e *Ethereum) transact(ctx context.Context, asset, action string, data []byte, gasLimit uint64) (Receipt, error) {
	backend, err := e.getBackend(ctx)
	if err != nil {
		return Receipt{}, err
	}

	tx, err := e.send(ctx, backend, data, gasLimit)
	if err != nil {
		return Receipt{}, err
	}
	e.logger.Info().Str("asset", asset).Str("action", action).Str("tx", tx.Hash().Hex()).Msg("transaction sent")

	receipt, err := e.waitMined(ctx, backend, tx.Hash())
	if err != nil {
		return Receipt{}, fmt.Errorf("wait for %s receipt: %w", action, err)
	}
	out := Receipt{TxHash: tx.Hash().Hex()}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, fmt.Errorf("%s %s: %w", action, tx.Hash().Hex(), ErrReverted)
	}

	e.logger.Info().Str("asset", asset).Str("action", action).Uint64("block", out.Block).Msg("transaction confirmed")
	return out, nil
}

func (e *Ethereum) send(ctx context.Context, backend Backend, data []byte, gasLimit uint64) (*types.Transaction, error) {
	e.sendMux.Lock()
	defer e.sendMux.Unlock()

	chainID, err := e.resolveChainID(ctx, backend)
	if err != nil {
		return nil, err
	}
	nonce, err := backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.address,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signed, nil
}

func (e *Ethereum) waitMined(ctx context.Context, backend Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Ethereum) resolveChainID(ctx context.Context, backend Backend) (*big.Int, error) {
	if e.chainID != nil {
		return e.chainID, nil
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	e.chainID = id
	return id, nil
}

func (e *Ethereum) getBackend(ctx context.Context) (Backend, error) {
	e.backendMux.Lock()
	defer e.backendMux.Unlock()

	if e.backend != nil {
		return e.backend, nil
	}
	if e.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	dialCtx := ctx
	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}
	client, err := ethclient.DialContext(dialCtx, e.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	e.backend = client
	return client, nil
}

var _ Ledger = (*Ethereum)(nil)
