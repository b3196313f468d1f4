package sequence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/policyhub/internal/sequence"
	"github.com/vladislavdragonenkov/policyhub/internal/storage/memory"
)

func TestAllocator_Format(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	a := sequence.NewAllocator(memory.NewSequenceRepository(), map[string]string{"Vie": "vie"}, "", sequence.WithClock(clock))

	first, err := a.NextPolicyNumber(context.Background(), "VIE")
	require.NoError(t, err)
	assert.Equal(t, "VIE-2026-000001", first)

	other, err := a.NextPolicyNumber(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "POL-2026-000001", other)
	assert.Regexp(t, `^[A-Z]+-\d{4}-\d{6}$`, other)
}

func TestAllocator_ConcurrentUnique(t *testing.T) {
	a := sequence.NewAllocator(memory.NewSequenceRepository(), nil, "AUTO")

	const n = 300
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := a.NextPolicyNumber(context.Background(), "auto")
			assert.NoError(t, err)
			mu.Lock()
			seen[num] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

type failingCounter struct{}

func (failingCounter) Next(context.Context, string) (int64, error) { return 0, errors.New("db down") }

func TestAllocator_CounterError(t *testing.T) {
	a := sequence.NewAllocator(failingCounter{}, nil, "")

	_, err := a.NextPolicyNumber(context.Background(), "vie")
	assert.ErrorContains(t, err, "db down")
}
