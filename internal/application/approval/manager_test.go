package approval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	tokens := NewTokenService("test-hmac-secret-at-least-32-bytes-long")
	defaults := Defaults{Timeout: time.Hour, Fallback: FallbackEscalate}
	return NewManager(client, nil, tokens, defaults), s
}

func TestManager_IssueTicket_IsIdempotentForOpenNode(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	first, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "approve this", 0, "")
	require.NoError(t, err)

	second, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "approve this", 0, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestManager_IssueTicket_AppliesDefaults(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ticket, err := m.IssueTicket(context.Background(), "exec-1", "node-1", "alice", "", 0, "")
	require.NoError(t, err)

	assert.Equal(t, FallbackEscalate, ticket.Fallback)
	assert.WithinDuration(t, ticket.IssuedAt.Add(time.Hour), ticket.Deadline, time.Second)
}

func TestManager_Respond_Approve(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	ticket, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Hour, FallbackEscalate)
	require.NoError(t, err)

	resolved, err := m.Respond(ctx, ticket.Token, ActionApprove, "alice", "looks good", map[string]interface{}{"approved_amount": 100})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.True(t, resolved.Approved())
	assert.Equal(t, "looks good", resolved.Comment)
}

func TestManager_Respond_Reject(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	ticket, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Hour, FallbackEscalate)
	require.NoError(t, err)

	resolved, err := m.Respond(ctx, ticket.Token, ActionReject, "alice", "denied", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, resolved.Status)
	assert.False(t, resolved.Approved())
}

func TestManager_Respond_SecondResponseFails(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	ticket, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Hour, FallbackEscalate)
	require.NoError(t, err)

	_, err = m.Respond(ctx, ticket.Token, ActionApprove, "alice", "", nil)
	require.NoError(t, err)

	_, err = m.Respond(ctx, ticket.Token, ActionReject, "alice", "", nil)
	assert.ErrorIs(t, err, models.ErrApprovalTicketClosed)
}

func TestManager_Respond_AssigneeMismatch(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	ticket, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Hour, FallbackEscalate)
	require.NoError(t, err)

	_, err = m.Respond(ctx, ticket.Token, ActionApprove, "mallory", "", nil)
	assert.ErrorIs(t, err, models.ErrApprovalAssigneeMismatch)
}

func TestManager_CheckTimeouts_AutoApprove(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	_, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Second, FallbackAutoApprove)
	require.NoError(t, err)

	// Expiry is judged against the wall clock, not miniredis' clock.
	time.Sleep(1100 * time.Millisecond)

	resolved, err := m.CheckTimeouts(ctx)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, StatusApproved, resolved[0].Status)
}

func TestManager_CheckTimeouts_Cancel(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	_, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Second, FallbackCancel)
	require.NoError(t, err)

	// Expiry is judged against the wall clock, not miniredis' clock.
	time.Sleep(1100 * time.Millisecond)

	resolved, err := m.CheckTimeouts(ctx)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, StatusRejected, resolved[0].Status)
}

func TestManager_CheckTimeouts_IgnoresOpenTicketsNotYetDue(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	ctx := context.Background()
	_, err := m.IssueTicket(ctx, "exec-1", "node-1", "alice", "", time.Hour, FallbackAutoApprove)
	require.NoError(t, err)

	resolved, err := m.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestManager_VerifyToken_RejectsTampered(t *testing.T) {
	m, s := setupManager(t)
	defer s.Close()

	_, err := m.VerifyToken("not-a-real-token")
	assert.Error(t, err)
}
