package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/bus"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

type recordedTransition struct {
	permissionID string
	to           permission.Status
	reason       string
}

// fakeCommitter records corrective actions and optionally applies them
// to the projection so subsequent re-checks see the new status.
type fakeCommitter struct {
	proj        *permission.Projection
	transitions []recordedTransition
	resends     []string
	err         error
}

func (c *fakeCommitter) Transition(_ context.Context, id string, to permission.Status, reason string) error {
	if c.err != nil {
		return c.err
	}
	c.transitions = append(c.transitions, recordedTransition{id, to, reason})
	if c.proj != nil {
		c.proj.Apply(permission.NewStatusEvent(id, to, permission.WithReason(reason)))
	}
	return nil
}

func (c *fakeCommitter) Resend(_ context.Context, id string) error {
	if c.err != nil {
		return c.err
	}
	c.resends = append(c.resends, id)
	if c.proj != nil {
		c.proj.Apply(permission.NewStatusEvent(id, permission.StatusSentToPA))
	}
	return nil
}

func applyAt(proj *permission.Projection, id string, status permission.Status, at time.Time) {
	proj.Apply(permission.NewStatusEvent(id, status, permission.WithOccurredAt(at)))
}

func TestSweeperTimesOutStalledSends(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()
	committer := &fakeCommitter{proj: proj}

	// Stalled for ten minutes: past the five-minute send timeout.
	applyAt(proj, "perm-stuck", permission.StatusSentToPA, now.Add(-10*time.Minute))
	// Sent recently: left alone.
	applyAt(proj, "perm-fresh", permission.StatusSentToPA, now.Add(-1*time.Minute))

	s := NewSweeper(proj, committer,
		WithRules(DefaultRules(5*time.Minute, time.Minute)),
		WithNowFunc(func() time.Time { return now }),
	)
	s.Sweep(context.Background())

	require.Len(t, committer.transitions, 1)
	assert.Equal(t, "perm-stuck", committer.transitions[0].permissionID)
	assert.Equal(t, permission.StatusTimedOut, committer.transitions[0].to)

	fresh, _ := proj.Get("perm-fresh")
	assert.Equal(t, permission.StatusSentToPA, fresh.Status)
}

func TestSweeperResendsUnableToSend(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()
	committer := &fakeCommitter{proj: proj}

	applyAt(proj, "perm-1", permission.StatusUnableToSend, now.Add(-2*time.Minute))

	s := NewSweeper(proj, committer,
		WithRules(DefaultRules(5*time.Minute, time.Minute)),
		WithNowFunc(func() time.Time { return now }),
	)
	s.Sweep(context.Background())

	// The outbound send is re-run, not merely re-labelled VALIDATED.
	require.Equal(t, []string{"perm-1"}, committer.resends)
	assert.Empty(t, committer.transitions)

	req, _ := proj.Get("perm-1")
	assert.Equal(t, permission.StatusSentToPA, req.Status)
}

func TestSweeperReportsCorrections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()
	committer := &fakeCommitter{proj: proj}

	applyAt(proj, "perm-stuck", permission.StatusSentToPA, now.Add(-10*time.Minute))
	applyAt(proj, "perm-resend", permission.StatusUnableToSend, now.Add(-2*time.Minute))

	var reported []int
	s := NewSweeper(proj, committer,
		WithRules(DefaultRules(5*time.Minute, time.Minute)),
		WithNowFunc(func() time.Time { return now }),
		WithObserver(func(corrected int) { reported = append(reported, corrected) }),
	)
	s.Sweep(context.Background())
	s.Sweep(context.Background())

	assert.Equal(t, []int{2, 0}, reported)
}

func TestSweeperSkipsRequestsThatMovedOn(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()

	applyAt(proj, "perm-1", permission.StatusSentToPA, now.Add(-10*time.Minute))

	// The request is accepted between the scan and the commit: the
	// re-check must prevent the stale timeout.
	committer := &fakeCommitter{}
	racingView := &viewWithHook{
		Projection: proj,
		onStale: func() {
			proj.Apply(permission.NewStatusEvent("perm-1", permission.StatusAccepted))
		},
	}

	s := NewSweeper(racingView, committer,
		WithRules(DefaultRules(5*time.Minute, time.Minute)),
		WithNowFunc(func() time.Time { return now }),
	)
	s.Sweep(context.Background())

	assert.Empty(t, committer.transitions)
}

// viewWithHook lets a test mutate the projection after the stale scan
// but before the per-request re-check.
type viewWithHook struct {
	*permission.Projection
	onStale func()
}

func (v *viewWithHook) StaleSince(status permission.Status, cutoff time.Time) []permission.Request {
	out := v.Projection.StaleSince(status, cutoff)
	if v.onStale != nil {
		v.onStale()
	}
	return out
}

func TestSweeperSweepIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()
	committer := &fakeCommitter{proj: proj}

	applyAt(proj, "perm-1", permission.StatusSentToPA, now.Add(-10*time.Minute))

	s := NewSweeper(proj, committer,
		WithRules(DefaultRules(5*time.Minute, time.Minute)),
		WithNowFunc(func() time.Time { return now }),
	)
	s.Sweep(context.Background())
	s.Sweep(context.Background())

	// The committer applied TIMED_OUT on the first pass; the second
	// pass finds nothing in SENT_TO_PERMISSION_ADMINISTRATOR.
	assert.Len(t, committer.transitions, 1)
}

func TestSweeperRedrivesDeadLetters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()

	dl := bus.NewDeadLetter(bus.DeadLetterConfig{
		MaxAttempts: 5,
		RetryDelay:  time.Second,
		Now:         func() time.Time { return now },
	})
	b := bus.New(bus.WithDeadLetter(dl))

	attempts := 0
	b.Subscribe("flaky", func(_ context.Context, _ permission.Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("temporarily down")
		}
		return nil
	})

	evt := permission.NewStatusEvent("perm-1", permission.StatusAccepted)
	require.NoError(t, b.Publish(context.Background(), evt))
	require.Equal(t, 1, dl.Len())

	s := NewSweeper(proj, &fakeCommitter{},
		WithDeadLetter(b, dl),
		WithNowFunc(func() time.Time { return now.Add(time.Hour) }),
	)
	s.Sweep(context.Background())

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, dl.Len())
}

func TestSweeperReparksFailedRedelivery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()

	dl := bus.NewDeadLetter(bus.DeadLetterConfig{
		MaxAttempts: 5,
		RetryDelay:  time.Second,
		Now:         func() time.Time { return now },
	})
	b := bus.New(bus.WithDeadLetter(dl))
	b.Subscribe("broken", func(_ context.Context, _ permission.Event) error {
		return errors.New("still down")
	})

	evt := permission.NewStatusEvent("perm-1", permission.StatusAccepted)
	require.NoError(t, b.Publish(context.Background(), evt))

	s := NewSweeper(proj, &fakeCommitter{},
		WithDeadLetter(b, dl),
		WithNowFunc(func() time.Time { return now.Add(time.Hour) }),
	)
	s.Sweep(context.Background())

	// Still parked, with a bumped attempt count.
	require.Equal(t, 1, dl.Len())
	due := dl.Due(now.Add(2 * time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Attempts)
}

func TestSweeperRespectsContextCancellation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proj := permission.NewProjection()
	committer := &fakeCommitter{proj: proj}

	applyAt(proj, "perm-1", permission.StatusSentToPA, now.Add(-10*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSweeper(proj, committer,
		WithNowFunc(func() time.Time { return now }),
	)
	s.Sweep(ctx)

	assert.Empty(t, committer.transitions)
}
