package database

import (
	"os"
	"path/filepath"
	"testing"

	"crypto-alert-telegram-bot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	store, err := Open(path, Options{MinThreshold: 0.001, MaxThreshold: 0.5})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestProfileCreatedLazily(t *testing.T) {
	store, _ := openTestStore(t)

	profile, err := store.GetProfile(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), profile.ChatID)
	assert.Equal(t, "usd", profile.DefaultCurrency)
	assert.True(t, profile.Notifications)
	assert.Empty(t, profile.Subscriptions)
}

func TestUpsertAndListSubscriptions(t *testing.T) {
	store, _ := openTestStore(t)

	sub, err := store.UpsertSubscription(1, "Bitcoin", "USD", 0.05, 50000)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", sub.Coin)
	assert.Equal(t, "usd", sub.Currency)
	assert.Equal(t, 0.05, sub.Threshold)
	assert.Equal(t, float64(50000), sub.ReferencePrice)

	// Upsert on the same pair replaces threshold and reference price.
	sub, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.10, 52000)
	require.NoError(t, err)
	assert.Equal(t, 0.10, sub.Threshold)
	assert.Equal(t, float64(52000), sub.ReferencePrice)

	_, err = store.UpsertSubscription(2, "ethereum", "eur", 0.02, 3000)
	require.NoError(t, err)

	all, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestThresholdAndPriceValidation(t *testing.T) {
	store, _ := openTestStore(t)

	_, err := store.UpsertSubscription(1, "bitcoin", "usd", 0.0001, 50000)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange, "threshold below minimum must be rejected")

	_, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.75, 50000)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange, "threshold above maximum must be rejected")

	_, err = store.UpdateThresholds(1, 0.75)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange, "bulk update must enforce the same bounds")

	min, max := store.ThresholdRange()
	assert.Equal(t, 0.001, min)
	assert.Equal(t, 0.5, max)

	_, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 0)
	assert.Error(t, err, "non-positive reference price must be rejected")

	_, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.001, 50000)
	assert.NoError(t, err, "bounds are inclusive")
	_, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.5, 50000)
	assert.NoError(t, err, "bounds are inclusive")
}

func TestRemoveAndClear(t *testing.T) {
	store, _ := openTestStore(t)

	_, err := store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 50000)
	require.NoError(t, err)
	_, err = store.UpsertSubscription(1, "ethereum", "usd", 0.05, 3000)
	require.NoError(t, err)

	removed, err := store.RemoveSubscription(1, "bitcoin", "usd")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveSubscription(1, "bitcoin", "usd")
	require.NoError(t, err)
	assert.False(t, removed, "removing a missing subscription reports false")

	n, err := store.ClearSubscriptions(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	profile, err := store.GetProfile(1)
	require.NoError(t, err)
	assert.Empty(t, profile.Subscriptions)
}

func TestUpdateReferencePrice(t *testing.T) {
	store, _ := openTestStore(t)

	_, err := store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 100)
	require.NoError(t, err)

	require.NoError(t, store.UpdateReferencePrice(1, "bitcoin", "usd", 106))

	all, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, float64(106), all[0].ReferencePrice)

	assert.Error(t, store.UpdateReferencePrice(1, "bitcoin", "usd", -1))
}

func TestUpdateThresholds(t *testing.T) {
	store, _ := openTestStore(t)

	_, err := store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 100)
	require.NoError(t, err)
	_, err = store.UpsertSubscription(1, "ethereum", "usd", 0.02, 3000)
	require.NoError(t, err)

	n, err := store.UpdateThresholds(1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	profile, err := store.GetProfile(1)
	require.NoError(t, err)
	for _, sub := range profile.Subscriptions {
		assert.Equal(t, 0.1, sub.Threshold)
	}
}

func TestProfileSettings(t *testing.T) {
	store, _ := openTestStore(t)

	require.NoError(t, store.SetDefaultCurrency(1, "EUR"))
	require.NoError(t, store.SetNotifications(1, false))

	profile, err := store.GetProfile(1)
	require.NoError(t, err)
	assert.Equal(t, "eur", profile.DefaultCurrency)
	assert.False(t, profile.Notifications)
}

func TestRoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	store, err := Open(path, Options{MinThreshold: 0.001, MaxThreshold: 0.5})
	require.NoError(t, err)

	_, err = store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 50000)
	require.NoError(t, err)
	_, err = store.UpsertSubscription(1, "ethereum", "eur", 0.02, 3000)
	require.NoError(t, err)
	_, err = store.UpsertSubscription(2, "dogecoin", "usd", 0.1, 0.2)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, Options{MinThreshold: 0.001, MaxThreshold: 0.5})
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.ListAll()
	require.NoError(t, err)

	got := make(map[int64]map[types.Pair]float64)
	for _, entry := range all {
		if got[entry.ChatID] == nil {
			got[entry.ChatID] = make(map[types.Pair]float64)
		}
		got[entry.ChatID][entry.Pair()] = entry.ReferencePrice
	}
	assert.Equal(t, map[int64]map[types.Pair]float64{
		1: {
			{Coin: "bitcoin", Currency: "usd"}:  50000,
			{Coin: "ethereum", Currency: "eur"}: 3000,
		},
		2: {
			{Coin: "dogecoin", Currency: "usd"}: 0.2,
		},
	}, got)
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	store, _ := openTestStore(t)

	_, err := store.UpsertSubscription(1, "bitcoin", "usd", 0.05, 50000)
	require.NoError(t, err)

	backupPath := filepath.Join(dir, "backup.db")
	require.NoError(t, store.Backup(backupPath))

	// Mutate after the snapshot; the restore must yield the snapshot state.
	_, err = store.ClearSubscriptions(1)
	require.NoError(t, err)

	restoredPath := filepath.Join(dir, "restored.db")
	require.NoError(t, Restore(restoredPath, backupPath))

	restored, err := Open(restoredPath, Options{MinThreshold: 0.001, MaxThreshold: 0.5})
	require.NoError(t, err)
	defer restored.Close()

	all, err := restored.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bitcoin", all[0].Coin)
}

func TestCorruptedDatabaseIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file at all, padded to look like one............"), 0o644))

	_, err := Open(path, Options{MinThreshold: 0.001, MaxThreshold: 0.5})
	require.Error(t, err)
}

func TestMetricsPersistence(t *testing.T) {
	store, _ := openTestStore(t)

	value, err := store.GetMetric("cycles_run")
	require.NoError(t, err)
	assert.Equal(t, float64(0), value, "missing metric defaults to 0")

	require.NoError(t, store.SaveMetric("cycles_run", 12))
	value, err = store.GetMetric("cycles_run")
	require.NoError(t, err)
	assert.Equal(t, float64(12), value)
}
