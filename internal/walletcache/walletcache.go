// Package walletcache keeps committed wallet snapshots in redis for balance reads.
// Money-moving operations never read from it; they always go through the store.
package walletcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	keyPrefix         = "wallet:"
	defaultTTL        = 30 * time.Second
	resultHit         = "hit"
	resultMiss        = "miss"
	resultWrite       = "write"
	resultError       = "error"
	resultInvalid     = "invalid"
	resultInvalidated = "invalidated"
)

type snapshot struct {
	UserID        string `json:"user_id"`
	Balance       int64  `json:"balance"`
	EscrowBalance int64  `json:"escrow_balance"`
}

// Cache implements ledger.WalletObserver on top of redis.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// New returns a Cache. A non-positive ttl uses the default.
func New(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// WalletChanged stores the committed wallet state.
func (cache *Cache) WalletChanged(ctx context.Context, wallet ledger.Wallet) {
	payload, err := json.Marshal(snapshot{
		UserID:        wallet.UserID.String(),
		Balance:       wallet.Balance.Int64(),
		EscrowBalance: wallet.EscrowBalance.Int64(),
	})
	if err != nil {
		metrics.RecordWalletCache(resultError)
		cache.logger.Warn("wallet cache encode failed", zap.String("user_id", wallet.UserID.String()), zap.Error(err))
		return
	}
	if err := cache.client.Set(ctx, key(wallet.UserID), string(payload), cache.ttl).Err(); err != nil {
		metrics.RecordWalletCache(resultError)
		cache.logger.Warn("wallet cache write failed", zap.String("user_id", wallet.UserID.String()), zap.Error(err))
		// A rejected write (OOM under noeviction) must not leave the previous snapshot readable.
		cache.invalidate(ctx, wallet.UserID)
		return
	}
	metrics.RecordWalletCache(resultWrite)
}

// Get returns the cached wallet; ok is false on a miss or any redis failure.
func (cache *Cache) Get(ctx context.Context, userID ledger.UserID) (ledger.Wallet, bool) {
	raw, err := cache.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.RecordWalletCache(resultMiss)
		return ledger.Wallet{}, false
	}
	if err != nil {
		metrics.RecordWalletCache(resultError)
		cache.logger.Warn("wallet cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
		return ledger.Wallet{}, false
	}
	wallet, err := decode(raw, userID)
	if err != nil {
		metrics.RecordWalletCache(resultInvalid)
		cache.logger.Warn("wallet cache entry invalid", zap.String("user_id", userID.String()), zap.Error(err))
		cache.invalidate(ctx, userID)
		return ledger.Wallet{}, false
	}
	metrics.RecordWalletCache(resultHit)
	return wallet, true
}

func (cache *Cache) invalidate(ctx context.Context, userID ledger.UserID) {
	if err := cache.client.Del(ctx, key(userID)).Err(); err != nil {
		cache.logger.Warn("wallet cache invalidate failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	metrics.RecordWalletCache(resultInvalidated)
}

// WalletSource loads the authoritative wallet.
type WalletSource interface {
	Wallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error)
}

// Reader serves wallet reads from the cache and falls back to the source.
type Reader struct {
	cache  *Cache
	source WalletSource
}

// NewReader wires a read-through Reader.
func NewReader(cache *Cache, source WalletSource) *Reader {
	return &Reader{cache: cache, source: source}
}

func (reader *Reader) Wallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	if wallet, ok := reader.cache.Get(ctx, userID); ok {
		return wallet, nil
	}
	wallet, err := reader.source.Wallet(ctx, userID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	reader.cache.WalletChanged(ctx, wallet)
	return wallet, nil
}

func key(userID ledger.UserID) string {
	return keyPrefix + userID.String()
}

func decode(raw string, userID ledger.UserID) (ledger.Wallet, error) {
	var cached snapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return ledger.Wallet{}, err
	}
	if cached.UserID != userID.String() {
		return ledger.Wallet{}, errors.New("cached wallet belongs to another user")
	}
	balance, err := ledger.NewCoins(cached.Balance)
	if err != nil {
		return ledger.Wallet{}, err
	}
	escrow, err := ledger.NewCoins(cached.EscrowBalance)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return ledger.Wallet{UserID: userID, Balance: balance, EscrowBalance: escrow}, nil
}
