package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-oracle/internal/ledger"
)

const (
	oracleReadABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"assetId","type":"bytes32"}],"name":"getLatestPrice","outputs":[{"internalType":"int64","name":"price","type":"int64"},{"internalType":"uint64","name":"timestamp","type":"uint64"},{"internalType":"bool","name":"isAnomalous","type":"bool"}],"stateMutability":"view","type":"function"}]`
)

var (
	oracleReadABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleReadABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleReadABI = parsed
}

// Caller is the read-only contract call surface of ethclient.Client.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OracleOptions parameterise the on-chain price reader.
type OracleOptions struct {
	RPCURL        string
	OracleAddress string
	PriceDecimals int32
	MaxAge        time.Duration
	Timeout       time.Duration
}

// OracleQuote is one getLatestPrice result.
type OracleQuote struct {
	Price       decimal.Decimal
	UpdatedAt   time.Time
	IsAnomalous bool
}

// Oracle reads prices and flag status from the oracle contract.
type Oracle struct {
	opts      OracleOptions
	logger    zerolog.Logger
	caller    Caller
	clientMux sync.Mutex
	now       func() time.Time
}

// NewOracle builds an oracle reader.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	if opts.PriceDecimals <= 0 {
		opts.PriceDecimals = 8
	}
	return &Oracle{
		opts:   opts,
		logger: logger.With().Str("component", "oracle_fetcher").Logger(),
		now:    time.Now,
	}
}

// WithCaller injects a contract caller, bypassing the dial.
func (o *Oracle) WithCaller(c Caller) *Oracle {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()
	o.caller = c
	return o
}

// Fetch returns the latest on-chain price for asset.
func (o *Oracle) Fetch(ctx context.Context, asset string) (float64, error) {
	quote, err := o.Quote(ctx, asset)
	if err != nil {
		return 0, err
	}
	if !quote.Price.IsPositive() {
		return 0, fmt.Errorf("oracle returned non-positive price %s for %s", quote.Price.String(), asset)
	}
	if o.opts.MaxAge > 0 && !quote.UpdatedAt.IsZero() {
		if age := o.now().Sub(quote.UpdatedAt); age > o.opts.MaxAge {
			return 0, fmt.Errorf("oracle price for %s is stale (%s old)", asset, age.Truncate(time.Second))
		}
	}
	return quote.Price.InexactFloat64(), nil
}

// FlagStatus reports whether the contract currently marks asset as anomalous.
func (o *Oracle) FlagStatus(ctx context.Context, asset string) (bool, error) {
	quote, err := o.Quote(ctx, asset)
	if err != nil {
		return false, err
	}
	return quote.IsAnomalous, nil
}

// Quote performs the raw getLatestPrice call.
func (o *Oracle) Quote(ctx context.Context, asset string) (OracleQuote, error) {
	if o.opts.OracleAddress == "" {
		return OracleQuote{}, errors.New("oracle contract address not configured")
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	caller, err := o.getCaller(ctx)
	if err != nil {
		return OracleQuote{}, err
	}

	addr := common.HexToAddress(o.opts.OracleAddress)
	payload, err := oracleReadABI.Pack("getLatestPrice", ledger.AssetID(asset))
	if err != nil {
		return OracleQuote{}, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return OracleQuote{}, fmt.Errorf("call getLatestPrice: %w", err)
	}

	outputs, err := oracleReadABI.Unpack("getLatestPrice", res)
	if err != nil {
		return OracleQuote{}, fmt.Errorf("decode getLatestPrice: %w", err)
	}
	if len(outputs) != 3 {
		return OracleQuote{}, errors.New("unexpected getLatestPrice response")
	}

	raw, ok1 := outputs[0].(int64)
	ts, ok2 := outputs[1].(uint64)
	flagged, ok3 := outputs[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return OracleQuote{}, errors.New("failed to decode getLatestPrice output")
	}

	quote := OracleQuote{
		Price:       decimal.New(raw, -o.opts.PriceDecimals),
		IsAnomalous: flagged,
	}
	if ts > 0 {
		quote.UpdatedAt = time.Unix(int64(ts), 0).UTC()
	}
	return quote, nil
}

func (o *Oracle) getCaller(ctx context.Context) (Caller, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.caller != nil {
		return o.caller, nil
	}
	if o.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.caller = client
	return client, nil
}

var _ PriceSource = (*Oracle)(nil)
var _ FlagStatusReader = (*Oracle)(nil)
