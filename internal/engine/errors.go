package engine

import "errors"

// Per-asset failures. None of them stop the engine; they are reported on the
// asset's result and the asset is retried on the next cycle.
var (
	ErrSourceUnavailable    = errors.New("price source unavailable")
	ErrLedgerDispatchFailed = errors.New("ledger dispatch failed")
	ErrSinkUnavailable      = errors.New("status sink unavailable")
	ErrUnknownAsset         = errors.New("unknown asset")
)
