package walletcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sourceFunc func(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error)

func (fn sourceFunc) Wallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	return fn(ctx, userID)
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	require.NoError(test, err)
	return userID
}

func TestWalletChangedWritesSnapshot(test *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, time.Minute, zap.NewNop())
	userID := mustUserID(test, "user-1")

	mock.ExpectSet("wallet:user-1", `{"user_id":"user-1","balance":500,"escrow_balance":250}`, time.Minute).SetVal("OK")
	cache.WalletChanged(context.Background(), ledger.Wallet{UserID: userID, Balance: 500, EscrowBalance: 250})

	assert.NoError(test, mock.ExpectationsWereMet())
}

func TestRejectedWriteDropsStaleSnapshot(test *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, time.Minute, zap.NewNop())
	userID := mustUserID(test, "user-1")

	mock.ExpectSet("wallet:user-1", `{"user_id":"user-1","balance":40,"escrow_balance":0}`, time.Minute).
		SetErr(errors.New("OOM command not allowed when used memory > 'maxmemory'"))
	mock.ExpectDel("wallet:user-1").SetVal(1)
	cache.WalletChanged(context.Background(), ledger.Wallet{UserID: userID, Balance: 40})

	assert.NoError(test, mock.ExpectationsWereMet())
}

func TestCorruptEntryIsDropped(test *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, 0, zap.NewNop())
	userID := mustUserID(test, "user-1")

	mock.ExpectGet("wallet:user-1").SetVal(`{"user_id":"user-1","balance":-5}`)
	mock.ExpectDel("wallet:user-1").SetErr(errors.New("connection refused"))
	_, ok := cache.Get(context.Background(), userID)
	require.False(test, ok)

	assert.NoError(test, mock.ExpectationsWereMet())
}

func TestGetHitMissAndError(test *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, 0, zap.NewNop())
	userID := mustUserID(test, "user-1")

	mock.ExpectGet("wallet:user-1").SetVal(`{"user_id":"user-1","balance":7,"escrow_balance":3}`)
	wallet, ok := cache.Get(context.Background(), userID)
	require.True(test, ok)
	require.Equal(test, ledger.Wallet{UserID: userID, Balance: 7, EscrowBalance: 3}, wallet)

	mock.ExpectGet("wallet:user-1").RedisNil()
	_, ok = cache.Get(context.Background(), userID)
	require.False(test, ok)

	mock.ExpectGet("wallet:user-1").SetErr(errors.New("connection refused"))
	_, ok = cache.Get(context.Background(), userID)
	require.False(test, ok)

	mock.ExpectGet("wallet:user-1").SetVal(`{"user_id":"someone-else","balance":7}`)
	mock.ExpectDel("wallet:user-1").SetVal(1)
	_, ok = cache.Get(context.Background(), userID)
	require.False(test, ok)

	assert.NoError(test, mock.ExpectationsWereMet())
}

func TestReaderFallsBackAndWritesThrough(test *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := New(client, time.Minute, zap.NewNop())
	userID := mustUserID(test, "user-2")
	loads := 0
	reader := NewReader(cache, sourceFunc(func(ctx context.Context, requested ledger.UserID) (ledger.Wallet, error) {
		loads++
		return ledger.Wallet{UserID: requested, Balance: 40}, nil
	}))

	mock.ExpectGet("wallet:user-2").RedisNil()
	mock.ExpectSet("wallet:user-2", `{"user_id":"user-2","balance":40,"escrow_balance":0}`, time.Minute).SetVal("OK")
	wallet, err := reader.Wallet(context.Background(), userID)
	require.NoError(test, err)
	require.Equal(test, ledger.Coins(40), wallet.Balance)
	require.Equal(test, 1, loads)

	mock.ExpectGet("wallet:user-2").SetVal(`{"user_id":"user-2","balance":40,"escrow_balance":0}`)
	_, err = reader.Wallet(context.Background(), userID)
	require.NoError(test, err)
	require.Equal(test, 1, loads)

	assert.NoError(test, mock.ExpectationsWereMet())
}

func TestReaderSurfacesSourceErrors(test *testing.T) {
	client, mock := redismock.NewClientMock()
	failure := errors.New("store offline")
	reader := NewReader(New(client, time.Minute, nil), sourceFunc(func(context.Context, ledger.UserID) (ledger.Wallet, error) {
		return ledger.Wallet{}, failure
	}))

	mock.ExpectGet("wallet:user-3").RedisNil()
	_, err := reader.Wallet(context.Background(), mustUserID(test, "user-3"))
	require.ErrorIs(test, err, failure)
	assert.NoError(test, mock.ExpectationsWereMet())
}
