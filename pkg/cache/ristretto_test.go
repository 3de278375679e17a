package cache

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRistrettoCache(t *testing.T) {
	cacheInterface, err := NewRistrettoCache(&RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer cacheInterface.Close()

	cache := cacheInterface.(*RistrettoCache)

	t.Run("set-and-get", func(t *testing.T) {
		key := "version:BTC-USD"
		value := int64(7)

		success := cache.Set(key, value, 1*time.Hour)
		if !success {
			t.Error("expected Set to succeed")
		}

		cache.Wait()

		retrieved, found := cache.Get(key)
		if !found {
			t.Error("expected key to be found")
		}

		if retrieved != value {
			t.Errorf("expected %v, got %v", value, retrieved)
		}
	})

	t.Run("get-missing-key", func(t *testing.T) {
		_, found := cache.Get("nonexistent")
		if found {
			t.Error("expected key to not be found")
		}
	})

	t.Run("delete", func(t *testing.T) {
		key := "delete-test"

		cache.Set(key, int64(1), 1*time.Hour)
		cache.Wait()

		_, found := cache.Get(key)
		if !found {
			t.Error("expected key to exist before delete")
		}

		cache.Delete(key)

		_, found = cache.Get(key)
		if found {
			t.Error("expected key to be deleted")
		}
	})

	t.Run("ttl-expiration", func(t *testing.T) {
		key := "ttl-test"

		cache.Set(key, int64(2), 200*time.Millisecond)
		cache.Wait()

		_, found := cache.Get(key)
		if !found {
			t.Error("expected key to exist before TTL expires")
		}

		time.Sleep(300 * time.Millisecond)

		_, found = cache.Get(key)
		if found {
			t.Error("expected key to be expired after TTL")
		}
	})

	t.Run("clear", func(t *testing.T) {
		cache.Set("clear-key1", int64(1), 1*time.Hour)
		cache.Set("clear-key2", int64(2), 1*time.Hour)
		cache.Wait()

		_, found1 := cache.Get("clear-key1")
		_, found2 := cache.Get("clear-key2")
		if !found1 || !found2 {
			t.Logf("admission: key1=%v, key2=%v", found1, found2)
			t.Skip("ristretto probabilistic admission, keys not admitted")
		}

		cache.Clear()

		_, found1 = cache.Get("clear-key1")
		_, found2 = cache.Get("clear-key2")
		if found1 || found2 {
			t.Error("expected all keys to be cleared")
		}
	})
}
