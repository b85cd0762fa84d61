package fetcher

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/rs/zerolog"

	"sentinel-oracle/internal/ledger"
)

type fakeCaller struct {
	price   int64
	ts      uint64
	flagged bool
	err     error
	lastMsg ethereum.CallMsg
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastMsg = call
	if f.err != nil {
		return nil, f.err
	}
	return oracleReadABI.Methods["getLatestPrice"].Outputs.Pack(f.price, f.ts, f.flagged)
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestOracleMissingConfig(t *testing.T) {
	off := NewOracle(OracleOptions{}, noopLogger())
	if _, err := off.Fetch(context.Background(), "BTC/USD"); err == nil {
		t.Fatal("未配置合约地址时应报错")
	}

	off = NewOracle(OracleOptions{OracleAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}, noopLogger())
	if _, err := off.Fetch(context.Background(), "BTC/USD"); err == nil {
		t.Fatal("缺少 RPC 地址应报错")
	}
}

func TestOracleFetchScalesPrice(t *testing.T) {
	now := time.Now().UTC()
	caller := &fakeCaller{price: 6_512_345_678_900, ts: uint64(now.Unix()), flagged: true}
	o := NewOracle(OracleOptions{OracleAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3", MaxAge: time.Minute}, noopLogger()).WithCaller(caller)

	price, err := o.Fetch(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("读取价格不应报错: %v", err)
	}
	if price != 65123.456789 {
		t.Fatalf("期望价格 65123.456789, 实际 %v", price)
	}

	id := ledger.AssetID("BTC/USD")
	if !bytes.Contains(caller.lastMsg.Data, id.Bytes()) {
		t.Fatal("调用数据应包含 asset id")
	}

	flagged, err := o.FlagStatus(context.Background(), "BTC/USD")
	if err != nil || !flagged {
		t.Fatalf("应返回链上 flag 状态, flagged=%v err=%v", flagged, err)
	}
}

func TestOracleRejectsStalePrice(t *testing.T) {
	old := time.Now().Add(-time.Hour).Unix()
	caller := &fakeCaller{price: 100_00000000, ts: uint64(old)}
	o := NewOracle(OracleOptions{OracleAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3", MaxAge: time.Minute}, noopLogger()).WithCaller(caller)

	if _, err := o.Fetch(context.Background(), "ETH/USD"); err == nil {
		t.Fatal("过期价格应报错")
	}
}

func TestOracleRejectsNonPositivePrice(t *testing.T) {
	caller := &fakeCaller{price: 0}
	o := NewOracle(OracleOptions{OracleAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}, noopLogger()).WithCaller(caller)

	if _, err := o.Fetch(context.Background(), "ETH/USD"); err == nil {
		t.Fatal("零价格应报错")
	}
}

func TestOracleCallError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	o := NewOracle(OracleOptions{OracleAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}, noopLogger()).WithCaller(caller)

	if _, err := o.Fetch(context.Background(), "SOL/USD"); err == nil {
		t.Fatal("合约调用失败应报错")
	}
}
