package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

type sink struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (s *sink) handle(_ context.Context, env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func blocked(t *testing.T, b *event.Block) event.Envelope {
	t.Helper()
	env, err := event.Blocked(b)
	require.NoError(t, err)
	return env
}

func TestBus_deliversByKind(t *testing.T) {
	b := New(Options{})
	all, blocks := &sink{}, &sink{}
	b.Subscribe("", all.handle)
	b.Subscribe(event.KindBlocked, blocks.handle)

	require.True(t, b.Publish(blocked(t, event.NewBlock("https://telegram.org/", "GET", "x"))))
	require.True(t, b.Publish(event.ClearAlerts()))
	b.Close()

	require.Equal(t, 2, all.len())
	require.Equal(t, 1, blocks.len())
	require.Equal(t, event.KindBlocked, all.envs[0].Kind)
	require.Equal(t, event.KindClearAlerts, all.envs[1].Kind)

	require.False(t, b.Publish(event.ClearAlerts()))
	b.Close()
}

func TestBus_handlerFailuresAreReported(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	b := New(Options{OnError: func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}})
	b.Subscribe("", func(context.Context, event.Envelope) error { return errors.New("disk full") })
	b.Subscribe("", func(context.Context, event.Envelope) error { panic("oops") })
	ok := &sink{}
	b.Subscribe("", ok.handle)

	b.Publish(event.ClearAlerts())
	b.Close()

	require.Len(t, errs, 2)
	require.EqualError(t, errs[0], "disk full")
	require.Contains(t, errs[1].Error(), "panicked")
	require.Equal(t, 1, ok.len())
}

func TestBus_fullQueue(t *testing.T) {
	b := New(Options{Buffer: 1})
	release := make(chan struct{})
	b.Subscribe("", func(context.Context, event.Envelope) error {
		<-release
		return nil
	})

	require.True(t, b.Publish(event.ClearAlerts()))
	require.Eventually(t, func() bool { return b.Publish(event.ClearAlerts()) }, time.Second, time.Millisecond)
	require.False(t, b.Publish(event.ClearAlerts()))

	close(release)
	b.Close()
}

func TestBus_publishRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := New(Options{Buffer: 1024})
		s := &sink{}
		b.Subscribe("", s.handle)

		var accepted atomic.Int32
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 20; n++ {
					if b.Publish(event.ClearAlerts()) {
						accepted.Add(1)
					}
				}
			}()
		}
		b.Close()
		wg.Wait()

		require.True(t, b.Closed())
		require.Equal(t, int(accepted.Load()), s.len())
	}
}

func TestDedupe(t *testing.T) {
	s := &sink{}
	h := Dedupe(s.handle, 2)
	ctx := context.Background()

	one := blocked(t, event.NewBlock("https://telegram.org/", "GET", "a"))
	two := blocked(t, event.NewBlock("https://telegram.org/", "GET", "b"))
	three := blocked(t, event.NewBlock("https://telegram.org/", "GET", "c"))

	require.NoError(t, h(ctx, one))
	require.NoError(t, h(ctx, one))
	require.NoError(t, h(ctx, two))
	require.NoError(t, h(ctx, event.ClearAlerts()))
	require.NoError(t, h(ctx, event.ClearAlerts()))
	require.Equal(t, 4, s.len())

	// one is evicted once two more IDs have been seen
	require.NoError(t, h(ctx, three))
	require.NoError(t, h(ctx, one))
	require.Equal(t, 6, s.len())

	require.Error(t, h(ctx, event.Envelope{Kind: event.KindBlocked, Payload: []byte("{")}))
}
