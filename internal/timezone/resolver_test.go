package timezone

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/model"
)

type countingRepo struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *countingRepo) ListActive(ctx context.Context) ([]model.Timezone, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return []model.Timezone{
		{Value: "America/New_York", Label: "Eastern", DisplayOrder: 1, Active: true},
		{Value: "Europe/London", Label: "London", DisplayOrder: 2, Active: true},
	}, nil
}

func TestResolver_ListCaches(t *testing.T) {
	repo := &countingRepo{}
	r := NewResolver(repo, Config{TTL: time.Hour})

	first, err := r.List(context.Background())
	require.NoError(t, err)
	second, err := r.List(context.Background())
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), repo.calls.Load())

	r.Invalidate()
	_, err = r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestResolver_ListDeduplicatesConcurrentLoads(t *testing.T) {
	repo := &countingRepo{release: make(chan struct{})}
	r := NewResolver(repo, Config{TTL: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tzs, err := r.List(context.Background())
			assert.NoError(t, err)
			assert.Len(t, tzs, 2)
		}()
	}

	// Give the goroutines time to pile up behind the first load.
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestResolver_ListErrorIsNotCached(t *testing.T) {
	repo := &countingRepo{err: errors.New("db down")}
	r := NewResolver(repo, Config{})

	_, err := r.List(context.Background())
	assert.ErrorContains(t, err, "db down")

	repo.err = nil
	tzs, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tzs, 2)
}

func TestResolver_BusterChangesKey(t *testing.T) {
	a := NewResolver(&countingRepo{}, Config{Buster: "v1"})
	b := NewResolver(&countingRepo{}, Config{Buster: "v2"})
	assert.NotEqual(t, a.key, b.key)
}

func TestResolver_Location(t *testing.T) {
	r := NewResolver(&countingRepo{}, Config{})

	loc, err := r.Location("America/Chicago")
	require.NoError(t, err)
	again, err := r.Location("America/Chicago")
	require.NoError(t, err)
	assert.Same(t, loc, again)

	_, err = r.Location("Not/AZone")
	assert.Error(t, err)

	_, err = r.Location("Local")
	assert.Error(t, err)
}
