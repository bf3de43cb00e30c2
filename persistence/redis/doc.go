// Package redis provides a Redis-based implementation of the txlifecycle
// audit sink.
//
// TradeStore implements txlifecycle.TradeRecorder: every transaction that
// reaches Completed is persisted as a write-once trade record, indexed per
// account/chain and by completion time.
//
// # Basic Usage
//
//	import (
//	    "github.com/redis/go-redis/v9"
//	    "github.com/swapforge/txlifecycle"
//	    redisstore "github.com/swapforge/txlifecycle/persistence/redis"
//	)
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: "localhost:6379",
//	})
//
//	store := redisstore.NewTradeStore(client)
//
//	manager, err := txlifecycle.New(pricer, executor,
//	    txlifecycle.WithTradeRecorder(store),
//	)
//
// # Multi-Tenant Usage
//
// Use key prefixes to isolate data for different applications or
// environments:
//
//	prodStore := redisstore.NewTradeStore(client, redisstore.WithTradeStoreKeyPrefix("prod"))
//	testStore := redisstore.NewTradeStore(client, redisstore.WithTradeStoreKeyPrefix("test"))
//
// # Redis Key Structure
//
//   - txlifecycle:trade:{txID} - Trade record (JSON)
//   - txlifecycle:trade:account:{account}:{chainID} - Set of trade ids per account/chain
//   - txlifecycle:trade:created_at - Sorted set of trade ids by completion time
//
// # Cleanup
//
// Trade records never expire on their own. Use DeleteOlderThan once the audit
// retention window has passed:
//
//	deleted, err := store.DeleteOlderThan(ctx, 30*24*time.Hour)
//
// # Thread Safety
//
// TradeStore is safe for concurrent use. Redis handles the underlying
// concurrency control.
//
// # Supported Redis Configurations
//
// Standalone Redis, Redis Sentinel and Redis Cluster all work; pass the
// appropriate redis.UniversalClient implementation to NewTradeStore.
package redis
