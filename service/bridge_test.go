package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/pkg/provider"
	"stream-orchestrator/pkg/provider/bridge"
)

func TestStartBridgeRelaysIntoPrimaryIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)

	creds, err := h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	require.NoError(t, err)

	assert.Equal(t, "bridge-1", creds.StreamID)
	assert.Equal(t, "bridge-key-1", creds.IngestKey)
	assert.Equal(t, constant.BridgeStatusReady, creds.Status)
	assert.False(t, creds.Reused)

	stored := h.get(t, session.ID)
	require.True(t, stored.HasIngest())
	assert.Equal(t, stored.Credentials.IngestURL, h.bridge.lastParams.SimulcastURL)
	assert.Equal(t, stored.Credentials.IngestKey, h.bridge.lastParams.SimulcastKey)
	assert.Equal(t, session.ID.String(), h.bridge.lastParams.PassthroughID)
	assert.Equal(t, constant.SessionStatusReady, stored.Status)
}

func TestConcurrentStartBridgeCreatesOne(t *testing.T) {
	h := newHarness(t)
	h.bridge.createDelay = 20 * time.Millisecond
	ctx := context.Background()
	session := h.createSession(t)

	const callers = 2
	var wg sync.WaitGroup
	results := make([]dto.BridgeCredentials, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Bridges.StartBridge(ctx, session.ID, owner)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, 1, h.bridge.creates())
	assert.Equal(t, 1, h.primary.creates())
	assert.Equal(t, results[0].StreamID, results[1].StreamID)
	assert.Equal(t, results[0].IngestKey, results[1].IngestKey)
	assert.NotEqual(t, results[0].Reused, results[1].Reused)
}

func TestStartBridgeFailureKeepsPrimaryIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)
	h.bridge.createErr = errors.New("503 from bridge provider")

	_, err := h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	stored := h.get(t, session.ID)
	assert.True(t, stored.HasIngest())
	assert.Equal(t, constant.SessionStatusReady, stored.Status)
	_, err = h.store.GetBridge(ctx, session.ID)
	assert.Error(t, err)

	h.bridge.createErr = fmt.Errorf("%w: invalid simulcast target", provider.ErrRejected)
	_, err = h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	assert.ErrorIs(t, err, ErrProviderRejected)
	assert.Equal(t, constant.SessionStatusReady, h.get(t, session.ID).Status)
}

func TestBridgeStatusFollowsProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)
	_, err := h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	require.NoError(t, err)

	h.bridge.status = bridge.StatusActive
	status, err := h.svc.Bridges.GetBridgeStatus(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, constant.BridgeStatusActive, status.Status)
	assert.Equal(t, bridge.StatusActive, status.ProviderStatus)
	assert.True(t, status.ProviderReachable)
	assert.NotNil(t, status.StartedAt)

	h.bridge.getErr = errors.New("connection refused")
	degraded, err := h.svc.Bridges.GetBridgeStatus(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, constant.BridgeStatusActive, degraded.Status)
	assert.False(t, degraded.ProviderReachable)

	h.bridge.getErr = nil
	h.bridge.status = bridge.StatusIdle
	idle, err := h.svc.Bridges.GetBridgeStatus(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, constant.BridgeStatusCompleted, idle.Status)
	assert.NotNil(t, idle.CompletedAt)

	assert.Equal(t, constant.SessionStatusReady, h.get(t, session.ID).Status)
}

func TestStopBridge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)
	first, err := h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	require.NoError(t, err)

	stopped, err := h.svc.Bridges.StopBridge(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, constant.BridgeStatusCompleted, stopped.Status)
	assert.NotNil(t, stopped.CompletedAt)

	again, err := h.svc.Bridges.StopBridge(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, constant.BridgeStatusCompleted, again.Status)
	h.bridge.mu.Lock()
	assert.Equal(t, 1, h.bridge.completeCalls)
	h.bridge.mu.Unlock()

	// A completed bridge is replaced rather than reused.
	second, err := h.svc.Bridges.StartBridge(ctx, session.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, first.StreamID, second.StreamID)
	assert.False(t, second.Reused)
	assert.Equal(t, 1, h.primary.creates())
}

func TestBridgeWithoutProvider(t *testing.T) {
	store := newHarness(t).store
	svc := NewService(Dependencies{Store: store, Primary: newFakePrimary()}, Options{})
	session, err := svc.Sessions.Create(context.Background(), owner, dto.CreateSessionRequest{Title: "No bridge"})
	require.NoError(t, err)

	_, err = svc.Bridges.StartBridge(context.Background(), session.ID, owner)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestBridgeStatusUnknownIsNotFound(t *testing.T) {
	h := newHarness(t)
	session := h.createSession(t)

	_, err := h.svc.Bridges.GetBridgeStatus(context.Background(), session.ID, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}
