package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestWins(t *testing.T) {
	var dropped []int
	s := New(func(v int) { dropped = append(dropped, v) })

	for i := 1; i <= 5; i++ {
		require.True(t, s.Put(i))
	}

	v, err := s.Take()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, []int{1, 2, 3, 4}, dropped)

	st := s.Stats()
	assert.Equal(t, uint64(5), st.Puts)
	assert.Equal(t, uint64(1), st.Takes)
	assert.Equal(t, uint64(4), st.TotalDrops)
	assert.Equal(t, uint64(0), st.ConsecutiveDrops)
	assert.False(t, s.Pending())
}

func TestZeroValueIsAPayload(t *testing.T) {
	s := New[int](nil)
	s.Put(0)
	assert.True(t, s.Pending())

	v, ok := s.TryTake()
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	_, ok = s.TryTake()
	assert.False(t, ok)
}

func TestTakeBlocksUntilPut(t *testing.T) {
	s := New[string](nil)
	got := make(chan string, 1)

	go func() {
		v, err := s.Take()
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Take returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	s.Put("hello")
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	s := New[int](nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.Take()
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := s.TakeWithin(time.Hour)
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not released by Close")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.True(t, s.Closed())
}

func TestCloseDropsPendingAndRefusesPuts(t *testing.T) {
	var dropped []int
	s := New(func(v int) { dropped = append(dropped, v) })

	s.Put(1)
	s.Close()
	s.Close()
	assert.False(t, s.Put(2))
	assert.Equal(t, []int{1}, dropped, "a refused value stays with the caller")

	_, err := s.Take()
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := s.TryTake()
	assert.False(t, ok)
}

func TestTakeWithin(t *testing.T) {
	tests := []struct {
		name    string
		prefill bool
		wait    time.Duration
		wantErr error
	}{
		{"pending returns immediately", true, time.Hour, nil},
		{"empty times out", false, 5 * time.Millisecond, ErrTimeout},
		{"zero wait empty", false, 0, ErrTimeout},
		{"zero wait pending", true, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New[int](nil)
			if tt.prefill {
				s.Put(7)
			}

			start := time.Now()
			v, err := s.TakeWithin(tt.wait)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.GreaterOrEqual(t, time.Since(start), tt.wait)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 7, v)
		})
	}
}

func TestTakeWithinWakesOnPut(t *testing.T) {
	s := New[int](nil)
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Put(3)
	}()

	v, err := s.TakeWithin(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestConsecutiveDropsResetOnTake(t *testing.T) {
	s := New[int](nil)
	s.Put(1)
	s.Put(2)
	s.Put(3)
	assert.Equal(t, uint64(2), s.Stats().ConsecutiveDrops)

	_, _ = s.Take()
	s.Put(4)
	st := s.Stats()
	assert.Equal(t, uint64(0), st.ConsecutiveDrops)
	assert.Equal(t, uint64(2), st.TotalDrops)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	s := New[int](nil)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	last := -1
	go func() {
		defer wg.Done()
		for {
			v, err := s.Take()
			if err != nil {
				return
			}
			// Values are observed in order, never repeated.
			if v <= last {
				t.Errorf("value %d after %d", v, last)
			}
			last = v
		}
	}()

	for i := 0; i < n; i++ {
		s.Put(i)
	}
	for s.Pending() {
		time.Sleep(time.Millisecond)
	}
	s.Close()
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, uint64(n), st.Takes+st.TotalDrops)
	assert.Equal(t, n-1, last)
}
