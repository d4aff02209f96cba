package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	factory *SessionFactory
	leases  *lease.Coordinator
	files   *fakeFiles
	clock   *testClock
	mr      *miniredis.Miniredis
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	leases, mr := newTestLeases(t)
	files := newFakeFiles()
	clock := newTestClock()
	factory := NewSessionFactory(leases, files, nil, SessionConfig{LeaseTTL: time.Minute, RenewAfter: 30 * time.Second}, discardLogger())
	factory.now = clock.now
	return &sessionFixture{factory: factory, leases: leases, files: files, clock: clock, mr: mr}
}

// ===== Start =====

func TestStart_CreatesInProgressRecord(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)

	rec, ok := fx.files.get("march.ofx")
	require.True(t, ok)
	assert.Equal(t, database.FileStatusInProgress, rec.Status)
	assert.Equal(t, rec.ID, s.File().ID)
	assert.True(t, fx.mr.Exists(fx.leases.Key("march.ofx")))
}

func TestStart_BusyWhileLeaseHeld(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	first, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)
	writes := fx.files.writes

	_, err = fx.factory.Start(ctx, "march.ofx")
	require.Error(t, err)
	assert.Equal(t, PhaseBusy, PhaseOf(err))
	assert.ErrorIs(t, err, ErrFileBusy)
	assert.ErrorIs(t, err, lease.ErrLeaseHeld)
	assert.Equal(t, writes, fx.files.writes, "a rejected start must not write")

	// The holder's lease is untouched.
	require.NoError(t, first.ValidateAndExtend(ctx))
}

func TestStart_AlreadyImported(t *testing.T) {
	fx := newSessionFixture(t)
	fx.files.put(database.BankFile{FileName: "march.ofx", Status: database.FileStatusCompleted, ImportedAt: fx.clock.now()})

	_, err := fx.factory.Start(context.Background(), "march.ofx")
	require.Error(t, err)
	assert.Equal(t, PhaseAlreadyImported, PhaseOf(err))
	assert.ErrorIs(t, err, ErrAlreadyImported)
	assert.Zero(t, fx.files.writes)
	assert.False(t, fx.mr.Exists(fx.leases.Key("march.ofx")), "lease must be released")
}

func TestStart_ReplacesStaleRecord(t *testing.T) {
	fx := newSessionFixture(t)
	stale := fx.files.put(database.BankFile{FileName: "march.ofx", Status: database.FileStatusInProgress, ImportedAt: fx.clock.now().Add(-time.Hour)})
	fx.files.rowCounts[stale.ID] = 7

	s, err := fx.factory.Start(context.Background(), "march.ofx")
	require.NoError(t, err)

	assert.NotEqual(t, stale.ID, s.File().ID)
	assert.Equal(t, database.FileStatusInProgress, s.File().Status)
	_, ok := fx.files.rowCounts[stale.ID]
	assert.False(t, ok, "stale rows must be removed with the record")
}

func TestStart_ReleasesLeaseOnStoreFailure(t *testing.T) {
	fx := newSessionFixture(t)
	fx.files.createErr = errors.New("connection reset by peer")

	_, err := fx.factory.Start(context.Background(), "march.ofx")
	require.Error(t, err)
	assert.Equal(t, PhaseInternal, PhaseOf(err))
	assert.False(t, fx.mr.Exists(fx.leases.Key("march.ofx")))

	// A later attempt is not blocked by a leaked lease.
	fx.files.createErr = nil
	_, err = fx.factory.Start(context.Background(), "march.ofx")
	require.NoError(t, err)
}

// ===== Complete and Close =====

func TestComplete_MarksCompletedAndReleases(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx))
	rec, _ := fx.files.get("march.ofx")
	assert.Equal(t, database.FileStatusCompleted, rec.Status)
	assert.False(t, fx.mr.Exists(fx.leases.Key("march.ofx")))

	writes := fx.files.writes
	require.NoError(t, s.Complete(ctx), "second Complete is a no-op")
	require.NoError(t, s.Close(ctx), "Close after Complete is a no-op")
	assert.Equal(t, writes, fx.files.writes)

	_, err = fx.factory.Start(ctx, "march.ofx")
	assert.Equal(t, PhaseAlreadyImported, PhaseOf(err))
}

func TestClose_ReleasesWithoutCompleting(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	rec, _ := fx.files.get("march.ofx")
	assert.Equal(t, database.FileStatusInProgress, rec.Status)
	assert.False(t, fx.mr.Exists(fx.leases.Key("march.ofx")))
	assert.ErrorIs(t, s.Complete(ctx), ErrSessionClosed)
	assert.ErrorIs(t, s.ValidateAndExtend(ctx), ErrSessionClosed)
}

func TestClose_UsesDetachedContext(t *testing.T) {
	fx := newSessionFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)
	cancel()

	require.NoError(t, s.Close(ctx))
	assert.False(t, fx.mr.Exists(fx.leases.Key("march.ofx")))
}

// ===== Renewal =====

func TestRenewIfDue(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	key := fx.leases.Key("march.ofx")

	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)

	fx.mr.FastForward(20 * time.Second)
	fx.clock.advance(20 * time.Second)
	require.NoError(t, s.RenewIfDue(ctx))
	assert.Equal(t, 40*time.Second, fx.mr.TTL(key), "not due yet")

	fx.mr.FastForward(15 * time.Second)
	fx.clock.advance(15 * time.Second)
	require.NoError(t, s.RenewIfDue(ctx))
	assert.Equal(t, time.Minute, fx.mr.TTL(key), "renewed after 30s")
}

func TestLeaseLost(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	s, err := fx.factory.Start(ctx, "march.ofx")
	require.NoError(t, err)

	// The lease expires and another worker takes it.
	fx.mr.FastForward(61 * time.Second)
	fx.clock.advance(61 * time.Second)
	other, err := fx.leases.Acquire(ctx, "march.ofx", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.RenewIfDue(ctx), lease.ErrLeaseLost)
	assert.ErrorIs(t, s.Complete(ctx), lease.ErrLeaseLost)

	rec, _ := fx.files.get("march.ofx")
	assert.Equal(t, database.FileStatusInProgress, rec.Status, "unconfirmed session must not complete")

	// Close must not delete the other worker's lease.
	assert.ErrorIs(t, s.Close(ctx), lease.ErrLeaseLost)
	require.NoError(t, fx.leases.Release(ctx, "march.ofx", other))
}
