package route

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

type fakeAdapter struct {
	id          string
	terminated  []string
	retransmits []RetransmissionRequest
	verdict     RetransmissionResult
	terminate   error
}

func (a *fakeAdapter) ID() string { return a.id }

func (a *fakeAdapter) Supports(string) (bool, string) { return true, "" }

func (a *fakeAdapter) Terminate(_ context.Context, permissionID string) error {
	a.terminated = append(a.terminated, permissionID)
	return a.terminate
}

func (a *fakeAdapter) Retransmit(_ context.Context, req RetransmissionRequest) RetransmissionResult {
	a.retransmits = append(a.retransmits, req)
	if a.verdict == "" {
		return ResultSuccess
	}
	return a.verdict
}

func streamingProjection(t *testing.T, permID, adapterID string, start, expiration time.Time) *permission.Projection {
	t.Helper()
	proj := permission.NewProjection()
	proj.Apply(permission.NewStatusEvent(permID, permission.StatusStreamingData,
		permission.WithAdapter(adapterID),
		permission.WithWindow(start, expiration),
	))
	return proj
}

func TestTerminateDirectAdapterMatch(t *testing.T) {
	proj := permission.NewProjection()
	r := NewRouter(proj, nil)

	adapter := &fakeAdapter{id: "adapter-at"}
	r.Register(adapter)

	require.NoError(t, r.Terminate(context.Background(), "adapter-at", "perm-1"))
	assert.Equal(t, []string{"perm-1"}, adapter.terminated)
}

func TestTerminateResolvesOwnerFromPermission(t *testing.T) {
	now := time.Now()
	proj := streamingProjection(t, "perm-1", "adapter-at", now.Add(-time.Hour), now.Add(time.Hour))
	r := NewRouter(proj, nil)

	adapter := &fakeAdapter{id: "adapter-at"}
	r.Register(adapter)

	// Target is a bare permission id; the router looks up the owner.
	require.NoError(t, r.Terminate(context.Background(), "perm-1", ""))
	assert.Equal(t, []string{"perm-1"}, adapter.terminated)
}

func TestTerminateUnmatchedIsSilentNoOp(t *testing.T) {
	proj := permission.NewProjection()
	r := NewRouter(proj, nil)

	adapter := &fakeAdapter{id: "adapter-at"}
	r.Register(adapter)

	require.NoError(t, r.Terminate(context.Background(), "nobody-home", "perm-1"))
	assert.Empty(t, adapter.terminated)
}

func TestTerminateOwnerAdapterGone(t *testing.T) {
	now := time.Now()
	proj := streamingProjection(t, "perm-1", "adapter-gone", now.Add(-time.Hour), now.Add(time.Hour))
	r := NewRouter(proj, nil)

	// The owning adapter is not registered: dropped silently.
	require.NoError(t, r.Terminate(context.Background(), "perm-1", ""))
}

func TestRetransmitHappyPath(t *testing.T) {
	now := time.Now()
	proj := streamingProjection(t, "perm-1", "adapter-at", now.Add(-24*time.Hour), now.Add(24*time.Hour))
	r := NewRouter(proj, nil)

	adapter := &fakeAdapter{id: "adapter-at"}
	r.Register(adapter)

	req := RetransmissionRequest{
		PermissionID: "perm-1",
		From:         now.Add(-2 * time.Hour),
		To:           now.Add(-time.Hour),
	}
	assert.Equal(t, ResultSuccess, r.Retransmit(context.Background(), req))
	require.Len(t, adapter.retransmits, 1)
	assert.Equal(t, "perm-1", adapter.retransmits[0].PermissionID)
}

func TestRetransmitVerdicts(t *testing.T) {
	now := time.Now()
	start := now.Add(-24 * time.Hour)
	expiration := now.Add(24 * time.Hour)

	tests := []struct {
		name    string
		setup   func(*permission.Projection, *Router)
		req     RetransmissionRequest
		verdict RetransmissionResult
	}{
		{
			name: "unknown permission",
			req: RetransmissionRequest{
				PermissionID: "no-such-perm",
				From:         now.Add(-2 * time.Hour),
				To:           now,
			},
			verdict: ResultPermissionRequestNotFound,
		},
		{
			name: "owner not registered",
			setup: func(proj *permission.Projection, r *Router) {
				proj.Apply(permission.NewStatusEvent("perm-1", permission.StatusStreamingData,
					permission.WithAdapter("adapter-unregistered"),
					permission.WithWindow(start, expiration)))
			},
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         now.Add(-2 * time.Hour),
				To:           now,
			},
			verdict: ResultServiceNotFound,
		},
		{
			name: "permission not active",
			setup: func(proj *permission.Projection, r *Router) {
				adapter := &fakeAdapter{id: "adapter-at"}
				r.Register(adapter)
				proj.Apply(permission.NewStatusEvent("perm-1", permission.StatusRevoked,
					permission.WithAdapter("adapter-at"),
					permission.WithWindow(start, expiration)))
			},
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         now.Add(-2 * time.Hour),
				To:           now,
			},
			verdict: ResultNoActivePermission,
		},
		{
			name: "window before validity",
			setup: func(proj *permission.Projection, r *Router) {
				adapter := &fakeAdapter{id: "adapter-at"}
				r.Register(adapter)
				proj.Apply(permission.NewStatusEvent("perm-1", permission.StatusStreamingData,
					permission.WithAdapter("adapter-at"),
					permission.WithWindow(start, expiration)))
			},
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         start.Add(-time.Hour),
				To:           now,
			},
			verdict: ResultNoPermissionForTimeFrame,
		},
		{
			name: "window after validity",
			setup: func(proj *permission.Projection, r *Router) {
				adapter := &fakeAdapter{id: "adapter-at"}
				r.Register(adapter)
				proj.Apply(permission.NewStatusEvent("perm-1", permission.StatusStreamingData,
					permission.WithAdapter("adapter-at"),
					permission.WithWindow(start, expiration)))
			},
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         now,
				To:           expiration.Add(time.Hour),
			},
			verdict: ResultNoPermissionForTimeFrame,
		},
		{
			name: "inverted window",
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         now,
				To:           now.Add(-time.Hour),
			},
			verdict: ResultFailure,
		},
		{
			name: "missing bounds",
			req: RetransmissionRequest{
				PermissionID: "perm-1",
				From:         now,
			},
			verdict: ResultFailure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			proj := permission.NewProjection()
			r := NewRouter(proj, nil)
			if tc.setup != nil {
				tc.setup(proj, r)
			}
			assert.Equal(t, tc.verdict, r.Retransmit(context.Background(), tc.req))
		})
	}
}

func TestRetransmitPassesAdapterVerdictThrough(t *testing.T) {
	now := time.Now()
	proj := streamingProjection(t, "perm-1", "adapter-at", now.Add(-24*time.Hour), now.Add(24*time.Hour))
	r := NewRouter(proj, nil)

	adapter := &fakeAdapter{id: "adapter-at", verdict: ResultDataNotAvailable}
	r.Register(adapter)

	req := RetransmissionRequest{
		PermissionID: "perm-1",
		From:         now.Add(-2 * time.Hour),
		To:           now.Add(-time.Hour),
	}
	assert.Equal(t, ResultDataNotAvailable, r.Retransmit(context.Background(), req))
}

func TestRegisterReplacesAndDeregisterRemoves(t *testing.T) {
	proj := permission.NewProjection()
	r := NewRouter(proj, nil)

	first := &fakeAdapter{id: "adapter-at"}
	second := &fakeAdapter{id: "adapter-at"}
	r.Register(first)
	r.Register(second)

	require.NoError(t, r.Terminate(context.Background(), "adapter-at", "perm-1"))
	assert.Empty(t, first.terminated)
	assert.Equal(t, []string{"perm-1"}, second.terminated)

	r.Deregister("adapter-at")
	assert.Empty(t, r.AdapterIDs())
}
