package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository/memory"
	"github.com/jwalitptl/stockalert-api/pkg/logger"
	"github.com/jwalitptl/stockalert-api/pkg/metrics"
)

func newTestCoordinator(t *testing.T, maxAttempts int) (*Coordinator, *time.Time) {
	t.Helper()
	now := ref
	store := memory.NewStore()
	store.SetClock(func() time.Time { return now })
	c := NewCoordinator(store, maxAttempts, 10*time.Minute, logger.Nop(), metrics.New("test"))
	c.now = func() time.Time { return now }
	return c, &now
}

func emailKey() model.ClaimKey {
	return model.ClaimKey{
		UserID:        uuid.New(),
		Type:          model.NotificationTypeDailyDigest,
		ScheduledDate: "2025-03-10",
		Channel:       model.ChannelEmail,
	}
}

func TestCoordinator_FinalAttemptInFlightIsNotExhausted(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCoordinator(t, 1)
	key := emailKey()

	_, outcome, err := c.Claim(ctx, key)
	require.NoError(t, err)
	require.Equal(t, ClaimGranted, outcome)

	claim, outcome, err := c.Claim(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, outcome)
	assert.Equal(t, model.ClaimStatusPending, claim.Status)
	assert.Equal(t, 1, claim.AttemptCount)

	// The holder never settled and its lease ran out with no attempts left.
	*now = now.Add(11 * time.Minute)
	_, outcome, err = c.Claim(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ClaimExhausted, outcome)
}

func TestCoordinator_DenialReasons(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 1)

	sent := emailKey()
	claim, _, err := c.Claim(ctx, sent)
	require.NoError(t, err)
	require.NoError(t, c.MarkSent(ctx, claim))
	_, outcome, err := c.Claim(ctx, sent)
	require.NoError(t, err)
	assert.Equal(t, ClaimAlreadySent, outcome)

	failed := emailKey()
	claim, _, err = c.Claim(ctx, failed)
	require.NoError(t, err)
	require.NoError(t, c.MarkFailed(ctx, claim, "mailbox full"))
	_, outcome, err = c.Claim(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, ClaimExhausted, outcome)
}
