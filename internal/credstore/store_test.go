package credstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/authstress/internal/credstore"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type storeFactory func(t *testing.T) credstore.Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) credstore.Store {
			return credstore.NewMemoryStore()
		},
		"redis": func(t *testing.T) credstore.Store {
			_, client := newTestRedis(t)
			return credstore.NewRedisStore(client, "test", "run1", credstore.WithOwnedClient())
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			defer s.Close()

			require.NoError(t, s.Put(ctx, "alice1", "P@ssw0rd"))

			pw, ok, err := s.Get(ctx, "alice1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "P@ssw0rd", pw)

			_, ok, err = s.Get(ctx, "bob")
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStore_PutDuplicate(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			defer s.Close()

			require.NoError(t, s.Put(ctx, "alice1", "first-pass"))
			err := s.Put(ctx, "alice1", "second-pass")
			assert.True(t, errors.Is(err, credstore.ErrDuplicate), "Put() error = %v, want ErrDuplicate", err)

			pw, _, err := s.Get(ctx, "alice1")
			require.NoError(t, err)
			assert.Equal(t, "first-pass", pw, "duplicate Put must not overwrite")
		})
	}
}

func TestStore_ConcurrentDistinctPuts(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			defer s.Close()

			const n = 200
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if err := s.Put(ctx, fmt.Sprintf("user_%d", i), fmt.Sprintf("password-%d", i)); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Errorf("Put() unexpected error: %v", err)
			}

			count, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, n, count)

			for i := 0; i < n; i++ {
				pw, ok, err := s.Get(ctx, fmt.Sprintf("user_%d", i))
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, fmt.Sprintf("password-%d", i), pw)
			}
		})
	}
}

func TestStore_ConcurrentSameUsername(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			defer s.Close()

			const n = 50
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Put(ctx, "contended", "pw-contended"); err == nil {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, winners, "exactly one Put should win")
			count, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, client := newTestRedis(t)
	defer client.Close()

	s := credstore.NewRedisStore(client, "", "abc")
	assert.Equal(t, "authstress:creds:abc", s.Key())

	require.NoError(t, s.Put(context.Background(), "alice1", "P@ssw0rd"))
	assert.Equal(t, "P@ssw0rd", mr.HGet("authstress:creds:abc", "alice1"))
}

func TestRedisStore_SharedAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()

	a := credstore.NewRedisStore(client, "test", "shared")
	b := credstore.NewRedisStore(client, "test", "shared")

	require.NoError(t, a.Put(ctx, "alice1", "P@ssw0rd"))
	assert.ErrorIs(t, b.Put(ctx, "alice1", "other"), credstore.ErrDuplicate)

	pw, ok, err := b.Get(ctx, "alice1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "P@ssw0rd", pw)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()

	s := credstore.NewRedisStore(client, "test", "down")
	mr.Close()

	err := s.Put(ctx, "alice1", "P@ssw0rd")
	assert.ErrorIs(t, err, credstore.ErrUnavailable)

	_, _, err = s.Get(ctx, "alice1")
	assert.ErrorIs(t, err, credstore.ErrUnavailable)

	_, err = s.Len(ctx)
	assert.ErrorIs(t, err, credstore.ErrUnavailable)
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()
	s := credstore.NewMemoryStore()
	require.NoError(t, s.Put(ctx, "alice1", "P@ssw0rd"))
	require.NoError(t, s.Close())

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
