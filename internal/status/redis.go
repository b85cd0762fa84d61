package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sentinel-oracle/internal/detector"
)

// RedisMirror copies verdicts into Redis so other processes can read the
// live status without talking to the engine.
//
//	<prefix>:verdict:<asset>  hash of the latest verdict
//	<prefix>:prices:<asset>   sorted set of "<unix_ms>:<price>" scored by unix ms
type RedisMirror struct {
	rdb          *redis.Client
	prefix       string
	historyLimit int64
	logger       zerolog.Logger
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(rdb *redis.Client, prefix string, historyLimit int, logger zerolog.Logger) *RedisMirror {
	if prefix == "" {
		prefix = "sentinel"
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &RedisMirror{
		rdb:          rdb,
		prefix:       prefix,
		historyLimit: int64(historyLimit),
		logger:       logger.With().Str("component", "status_redis").Logger(),
	}
}

// Publish writes the verdict hash and appends to the trimmed price history.
func (m *RedisMirror) Publish(ctx context.Context, v detector.Verdict) error {
	ts := v.Timestamp.UnixMilli()
	fields := map[string]any{
		"price":        strconv.FormatFloat(v.Price, 'f', -1, 64),
		"is_anomalous": strconv.FormatBool(v.IsAnomalous),
		"severity":     v.Severity.String(),
		"reason":       v.Reason,
		"samples":      v.Samples,
		"updated_at":   v.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if v.ZScore != nil {
		fields["z_score"] = strconv.FormatFloat(*v.ZScore, 'f', -1, 64)
	} else {
		fields["z_score"] = ""
	}

	pricesKey := m.PricesKey(v.Asset)
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, m.VerdictKey(v.Asset), fields)
	pipe.ZAdd(ctx, pricesKey, redis.Z{
		Score:  float64(ts),
		Member: fmt.Sprintf("%d:%s", ts, strconv.FormatFloat(v.Price, 'f', -1, 64)),
	})
	pipe.ZRemRangeByRank(ctx, pricesKey, 0, -m.historyLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror %s: %w", v.Asset, err)
	}
	return nil
}

// SetFlagged stores the confirmed flag state on the verdict hash.
func (m *RedisMirror) SetFlagged(asset string, flagged bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.HSet(ctx, m.VerdictKey(asset), "flagged", strconv.FormatBool(flagged)).Err(); err != nil {
		m.logger.Warn().Err(err).Str("asset", asset).Msg("failed to mirror flag state")
	}
}

// History reads the mirrored price history, oldest first.
func (m *RedisMirror) History(ctx context.Context, asset string) ([]PricePoint, error) {
	res, err := m.rdb.ZRangeWithScores(ctx, m.PricesKey(asset), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(res))
	for _, z := range res {
		member, _ := z.Member.(string)
		price, err := parseMember(member)
		if err != nil {
			m.logger.Error().Err(err).Str("member", member).Msg("failed to parse mirrored price")
			continue
		}
		points = append(points, PricePoint{Price: price, Timestamp: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return points, nil
}

// VerdictKey is the hash key for asset.
func (m *RedisMirror) VerdictKey(asset string) string {
	return fmt.Sprintf("%s:verdict:%s", m.prefix, asset)
}

// PricesKey is the sorted set key for asset.
func (m *RedisMirror) PricesKey(asset string) string {
	return fmt.Sprintf("%s:prices:%s", m.prefix, asset)
}

func parseMember(member string) (float64, error) {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return strconv.ParseFloat(member[i+1:], 64)
		}
	}
	return 0, fmt.Errorf("malformed member %q", member)
}

var (
	_ Sink        = (*RedisMirror)(nil)
	_ FlagTracker = (*RedisMirror)(nil)
)
