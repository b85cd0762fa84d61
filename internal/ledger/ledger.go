package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrReverted indicates the transaction was mined but its execution failed.
var ErrReverted = errors.New("ledger: transaction reverted")

// Receipt describes a confirmed ledger action.
type Receipt struct {
	TxHash string
	Block  uint64
}

// Ledger accepts flag and clear requests and blocks until they are confirmed.
type Ledger interface {
	Flag(ctx context.Context, asset, reason string) (Receipt, error)
	Clear(ctx context.Context, asset string) (Receipt, error)
}

// AssetID derives the on-chain bytes32 key for an asset symbol.
func AssetID(asset string) common.Hash {
	return crypto.Keccak256Hash([]byte(asset))
}
