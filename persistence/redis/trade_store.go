package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/swapforge/txlifecycle"
)

// Key prefixes for trade record storage
const (
	tradeKeyPrefix         = "txlifecycle:trade:"           // trade data by tx id
	tradeAccountIndexKey   = "txlifecycle:trade:account:"   // trade ids by account:chainID
	tradeTimestampSortedAt = "txlifecycle:trade:created_at" // sorted set by completion timestamp
)

// TradeStore provides Redis-based persistence for completed trade records.
// It implements the txlifecycle.TradeRecorder interface.
//
// Trade records are write-once: a record is stored when a transaction reaches
// Completed and is never updated afterwards, so no optimistic locking is
// needed. Records do not automatically expire; use DeleteOlderThan for
// periodic cleanup.
type TradeStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// TradeStoreOption configures a TradeStore.
type TradeStoreOption func(*TradeStore)

// WithTradeStoreKeyPrefix sets a custom prefix for all Redis keys.
func WithTradeStoreKeyPrefix(prefix string) TradeStoreOption {
	return func(s *TradeStore) {
		s.keyPrefix = prefix
	}
}

// NewTradeStore creates a new Redis-based trade record store.
func NewTradeStore(client redis.UniversalClient, opts ...TradeStoreOption) *TradeStore {
	s := &TradeStore{
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key returns the full Redis key with optional prefix.
func (s *TradeStore) key(parts ...string) string {
	key := strings.Join(parts, "")
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

func (s *TradeStore) accountIndexKey(account common.Address, chainID uint64) string {
	return s.key(tradeAccountIndexKey, account.Hex(), ":", strconv.FormatUint(chainID, 10))
}

// RecordTrade persists a completed trade record and its indexes atomically.
func (s *TradeStore) RecordTrade(ctx context.Context, record *txlifecycle.TradeRecord) error {
	if record == nil {
		return fmt.Errorf("trade record cannot be nil")
	}
	if record.TxID == "" {
		return fmt.Errorf("trade record tx id cannot be empty")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize trade record: %w", err)
	}

	recordKey := s.key(tradeKeyPrefix, record.TxID)
	accountKey := s.accountIndexKey(record.Account, record.ChainID)

	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, data, 0)
		pipe.SAdd(ctx, accountKey, record.TxID)
		pipe.ZAdd(ctx, s.key(tradeTimestampSortedAt), redis.Z{
			Score:  float64(completedAt.Unix()),
			Member: record.TxID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save trade record: %w", err)
	}
	return nil
}

// Get retrieves a trade record by transaction id. Not found is not an error.
func (s *TradeStore) Get(ctx context.Context, txID string) (*txlifecycle.TradeRecord, error) {
	data, err := s.client.Get(ctx, s.key(tradeKeyPrefix, txID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade record: %w", err)
	}

	var record txlifecycle.TradeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize trade record: %w", err)
	}
	return &record, nil
}

// ListByAccount returns all trade records for an account on a chain.
func (s *TradeStore) ListByAccount(ctx context.Context, account common.Address, chainID uint64) ([]*txlifecycle.TradeRecord, error) {
	ids, err := s.client.SMembers(ctx, s.accountIndexKey(account, chainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trade ids by account: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(tradeKeyPrefix, id)
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to batch get trade records: %w", err)
	}

	records := make([]*txlifecycle.TradeRecord, 0, len(results))
	var deserializeErrors []string
	for i, result := range results {
		if result == nil {
			// Record was deleted, this is expected
			continue
		}
		data, ok := result.(string)
		if !ok {
			deserializeErrors = append(deserializeErrors, fmt.Sprintf("id %s: unexpected type %T", ids[i], result))
			continue
		}
		var record txlifecycle.TradeRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			deserializeErrors = append(deserializeErrors, fmt.Sprintf("id %s: %v", ids[i], err))
			continue
		}
		records = append(records, &record)
	}

	if len(deserializeErrors) > 0 {
		return records, fmt.Errorf("failed to deserialize %d trade records: %s",
			len(deserializeErrors), strings.Join(deserializeErrors, "; "))
	}
	return records, nil
}

// DeleteOlderThan removes trade records completed more than age ago, in
// batches, and returns how many were removed.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	return s.DeleteOlderThanWithBatchSize(ctx, age, 1000)
}

// DeleteOlderThanWithBatchSize removes old trade records with a configurable
// batch size (0 = unlimited, single batch).
func (s *TradeStore) DeleteOlderThanWithBatchSize(ctx context.Context, age time.Duration, batchSize int64) (int, error) {
	cutoff := time.Now().Add(-age).Unix()
	totalDeleted := 0

	for {
		rangeBy := &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff, 10),
		}
		if batchSize > 0 {
			rangeBy.Count = batchSize
		}

		ids, err := s.client.ZRangeByScore(ctx, s.key(tradeTimestampSortedAt), rangeBy).Result()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get old trade ids: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.key(tradeKeyPrefix, id)
		}
		results, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to batch get trade records: %w", err)
		}

		pipe := s.client.TxPipeline()
		var parseErrors []string
		for i, result := range results {
			id := ids[i]
			pipe.Del(ctx, s.key(tradeKeyPrefix, id))
			pipe.ZRem(ctx, s.key(tradeTimestampSortedAt), id)
			totalDeleted++

			if result == nil {
				continue
			}
			data, ok := result.(string)
			if !ok {
				parseErrors = append(parseErrors, fmt.Sprintf("id %s: unexpected type %T", id, result))
				continue
			}
			var record txlifecycle.TradeRecord
			if err := json.Unmarshal([]byte(data), &record); err != nil {
				// Corrupted data is still deleted above
				parseErrors = append(parseErrors, fmt.Sprintf("id %s: %v", id, err))
				continue
			}
			pipe.SRem(ctx, s.accountIndexKey(record.Account, record.ChainID), id)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return totalDeleted, fmt.Errorf("failed to execute batch delete: %w", err)
		}
		if len(parseErrors) > 0 {
			return totalDeleted, fmt.Errorf("encountered %d errors during delete: %s",
				len(parseErrors), strings.Join(parseErrors, "; "))
		}
		if batchSize == 0 || int64(len(ids)) < batchSize {
			break
		}
	}

	return totalDeleted, nil
}

// Verify TradeStore implements txlifecycle.TradeRecorder
var _ txlifecycle.TradeRecorder = (*TradeStore)(nil)
