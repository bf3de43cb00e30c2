package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapforge/txlifecycle"
)

func testTradeRecord(txID string, account common.Address, completedAt time.Time) *txlifecycle.TradeRecord {
	return &txlifecycle.TradeRecord{
		TxID:                  txID,
		Account:               account,
		ChainID:               1,
		Hash:                  common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		Nonce:                 7,
		TokenIn:               common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		TokenOut:              common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		AmountIn:              "1000000000",
		AmountOut:             "350000000000000000",
		GasUsed:               180000,
		EffectiveGasPriceGwei: 21.5,
		SavingsPercent:        10,
		RetryCount:            1,
		CompletedAt:           completedAt,
	}
}

func TestTradeStore_RecordAndGet(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewTradeStore(client, WithTradeStoreKeyPrefix("test"))
	ctx := context.Background()

	account := common.HexToAddress("0x1234567890123456789012345678901234567890")
	record := testTradeRecord("tx-1", account, time.Now())

	err := store.RecordTrade(ctx, record)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, record.TxID, retrieved.TxID)
	assert.Equal(t, record.Account, retrieved.Account)
	assert.Equal(t, record.ChainID, retrieved.ChainID)
	assert.Equal(t, record.Hash, retrieved.Hash)
	assert.Equal(t, record.Nonce, retrieved.Nonce)
	assert.Equal(t, record.AmountIn, retrieved.AmountIn)
	assert.Equal(t, record.AmountOut, retrieved.AmountOut)
	assert.Equal(t, record.EffectiveGasPriceGwei, retrieved.EffectiveGasPriceGwei)
	assert.Equal(t, record.SavingsPercent, retrieved.SavingsPercent)
	assert.Equal(t, record.RetryCount, retrieved.RetryCount)
}

func TestTradeStore_GetNotFound(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewTradeStore(client)
	ctx := context.Background()

	record, err := store.Get(ctx, "no-such-trade")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTradeStore_RecordValidation(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewTradeStore(client)
	ctx := context.Background()

	err := store.RecordTrade(ctx, nil)
	require.Error(t, err)

	err = store.RecordTrade(ctx, &txlifecycle.TradeRecord{})
	require.Error(t, err)
}

func TestTradeStore_ListByAccount(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewTradeStore(client)
	ctx := context.Background()

	account := common.HexToAddress("0x1234567890123456789012345678901234567890")
	other := common.HexToAddress("0x0987654321098765432109876543210987654321")

	for i := 0; i < 3; i++ {
		record := testTradeRecord(fmt.Sprintf("tx-%d", i), account, time.Now())
		require.NoError(t, store.RecordTrade(ctx, record))
	}
	require.NoError(t, store.RecordTrade(ctx, testTradeRecord("tx-other", other, time.Now())))

	records, err := store.ListByAccount(ctx, account, 1)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, account, r.Account)
	}

	// Other chain has no records for this account
	records, err = store.ListByAccount(ctx, account, 137)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTradeStore_DeleteOlderThan(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	store := NewTradeStore(client)
	ctx := context.Background()

	account := common.HexToAddress("0x1234567890123456789012345678901234567890")

	old := testTradeRecord("tx-old", account, time.Now().Add(-48*time.Hour))
	recent := testTradeRecord("tx-recent", account, time.Now())
	require.NoError(t, store.RecordTrade(ctx, old))
	require.NoError(t, store.RecordTrade(ctx, recent))

	deleted, err := store.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	gone, err := store.Get(ctx, "tx-old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Get(ctx, "tx-recent")
	require.NoError(t, err)
	require.NotNil(t, kept)

	// Account index no longer lists the deleted trade
	records, err := store.ListByAccount(ctx, account, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tx-recent", records[0].TxID)
}

func TestTradeStore_KeyPrefixIsolation(t *testing.T) {
	client := testRedisClient(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	account := common.HexToAddress("0x1234567890123456789012345678901234567890")

	storeA := NewTradeStore(client, WithTradeStoreKeyPrefix("a"))
	storeB := NewTradeStore(client, WithTradeStoreKeyPrefix("b"))

	require.NoError(t, storeA.RecordTrade(ctx, testTradeRecord("tx-1", account, time.Now())))

	fromB, err := storeB.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, fromB)

	fromA, err := storeA.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.NotNil(t, fromA)
}
