// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/fuzzframe/protofuzz/blockmodel"
)

func TestScheduler_SuccessResetsFailures(t *testing.T) {
	spec := blockmodel.HeartbeatSpec{
		Interval:       10 * time.Millisecond,
		ExpectResponse: true,
		OnFailure:      blockmodel.OnFailure{Action: "reconnect", Threshold: 3},
	}
	var sends int32
	s := New(spec,
		func() ([]byte, error) { return []byte{0x01}, nil },
		func(ctx context.Context, b []byte, expectResponse bool) error {
			atomic.AddInt32(&sends, 1)
			return nil
		},
		func(action string) { t.Fatalf("onFail should not fire, got %q", action) },
		log.NewNoOpLogger(),
	)

	s.fire(context.Background())
	s.fire(context.Background())

	require.Equal(t, int32(2), atomic.LoadInt32(&sends))
	snap := s.Snapshot()
	require.Equal(t, 2, snap.TotalSent)
	require.Equal(t, 0, snap.Failures)
	require.False(t, snap.Failed)
}

func TestScheduler_FailureThresholdTriggersReconnect(t *testing.T) {
	spec := blockmodel.HeartbeatSpec{
		Interval:       10 * time.Millisecond,
		ExpectResponse: true,
		OnFailure:      blockmodel.OnFailure{Action: "reconnect", Threshold: 3},
	}
	sendErr := errors.New("silenced target")
	var mu sync.Mutex
	var firedActions []string

	s := New(spec,
		func() ([]byte, error) { return []byte{0x01}, nil },
		func(ctx context.Context, b []byte, expectResponse bool) error { return sendErr },
		func(action string) {
			mu.Lock()
			firedActions = append(firedActions, action)
			mu.Unlock()
		},
		log.NewNoOpLogger(),
	)

	// Spec scenario 5: failures count 1, 2, 3; on the 3rd the threshold
	// fires and the internal counter resets to 0.
	s.fire(context.Background())
	require.Equal(t, 1, s.Snapshot().Failures)
	s.fire(context.Background())
	require.Equal(t, 2, s.Snapshot().Failures)
	s.fire(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"reconnect"}, firedActions)
	require.Equal(t, 0, s.Snapshot().Failures)
	require.False(t, s.Snapshot().Failed) // action is reconnect, not stop
}

func TestScheduler_StopActionMarksFailed(t *testing.T) {
	spec := blockmodel.HeartbeatSpec{
		Interval: 10 * time.Millisecond,
		OnFailure: blockmodel.OnFailure{Action: "stop", Threshold: 1},
	}
	s := New(spec,
		func() ([]byte, error) { return nil, errors.New("build failed") },
		func(ctx context.Context, b []byte, expectResponse bool) error { return nil },
		func(action string) {},
		log.NewNoOpLogger(),
	)

	s.fire(context.Background())
	require.True(t, s.Snapshot().Failed)
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	spec := blockmodel.HeartbeatSpec{Interval: 5 * time.Millisecond}
	var sends int32
	s := New(spec,
		func() ([]byte, error) { return []byte{0x01}, nil },
		func(ctx context.Context, b []byte, expectResponse bool) error {
			atomic.AddInt32(&sends, 1)
			return nil
		},
		func(action string) {},
		log.NewNoOpLogger(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run did not return after context cancellation")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&sends), int32(1))
}
