package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Running bool `json:"running"`
	Step    int  `json:"step"`
}

var errBusy = errors.New("busy")

func acquire(cur record, exists bool) (record, error) {
	if exists && cur.Running {
		return cur, errBusy
	}
	return record{Running: true, Step: 1}, nil
}

func exerciseStore(t *testing.T, s Store[record]) {
	ctx := context.Background()
	key := uuid.NewString()

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Update(ctx, key, acquire)
	require.NoError(t, err)
	assert.True(t, got.Running)

	_, err = s.Update(ctx, key, acquire)
	assert.ErrorIs(t, err, errBusy)

	require.NoError(t, s.Put(ctx, key, record{Step: 4}))
	v, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, v.Step)

	require.NoError(t, s.Delete(ctx, key))
	_, ok, _ = s.Get(ctx, key)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory[record]())
}

func TestMemory_UpdateIsExclusive(t *testing.T) {
	s := NewMemory[record]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(context.Background(), "p1", acquire); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	exerciseStore(t, NewRedis[record](client, "test:registry:", time.Minute))

	// records expire with the registry ttl
	s := NewRedis[record](client, "test:registry:", time.Minute)
	require.NoError(t, s.Put(context.Background(), "p1", record{Step: 2}))
	assert.True(t, mr.Exists("test:registry:p1"))
	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_UpdateIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedis[record](client, "test:registry:", time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(context.Background(), "p1", acquire); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
