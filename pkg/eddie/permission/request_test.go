package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestActive(t *testing.T) {
	for _, s := range []Status{StatusAccepted, StatusWaitingForStart, StatusStreamingData} {
		assert.True(t, Request{Status: s}.Active(), string(s))
	}
	for _, s := range []Status{StatusCreated, StatusSentToPA, StatusFulfilled, StatusRevoked} {
		assert.False(t, Request{Status: s}.Active(), string(s))
	}
}

func TestRequestWindowChecks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	assert.True(t, Request{Start: &later}.StartsAfter(now))
	assert.False(t, Request{Start: &earlier}.StartsAfter(now))
	assert.False(t, Request{}.StartsAfter(now))

	assert.True(t, Request{Expiration: &earlier}.ExpiredAt(now))
	assert.True(t, Request{Expiration: &now}.ExpiredAt(now))
	assert.False(t, Request{Expiration: &later}.ExpiredAt(now))
	assert.False(t, Request{}.ExpiredAt(now))
}
