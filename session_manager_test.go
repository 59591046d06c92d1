package credentials_test

import (
	"context"
	"testing"
	"time"

	credentials "github.com/goliatone/go-credentials"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSessionManager(t *testing.T) (*credentials.RefreshSessionManager, *fakeRepo, *credentials.TokenCodec, *recordingSink) {
	t.Helper()

	repo := newFakeRepo()
	codec := credentials.NewTokenCodec(newTestConfig()).WithLogger(testLogger{})
	sink := &recordingSink{}

	manager := credentials.NewRefreshSessionManager(repo, codec).
		WithLogger(testLogger{}).
		WithActivitySink(sink)

	return manager, repo, codec, sink
}

func TestSessionManagerIssueCreatesSingleSession(t *testing.T) {
	ctx := context.Background()
	manager, repo, codec, sink := newSessionManager(t)

	accountID := uuid.New()

	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, accountID, session.AccountID)
	assert.Equal(t, 1, repo.sessions.sessionCount())

	claims, err := codec.Decode(session.TokenValue)
	require.NoError(t, err)
	assert.True(t, codec.IsValid(claims, credentials.TokenClassRefresh))

	assert.Len(t, sink.eventsOf(credentials.ActivityEventSessionIssued), 1)
}

func TestSessionManagerSecondIssueReplacesFirst(t *testing.T) {
	ctx := context.Background()
	manager, repo, _, _ := newSessionManager(t)

	accountID := uuid.New()

	first, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	second, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	assert.NotEqual(t, first.TokenValue, second.TokenValue)
	assert.Equal(t, 1, repo.sessions.sessionCount())

	// the first token no longer matches a live session
	_, err = repo.sessions.GetByTokenValue(ctx, first.TokenValue)
	assert.Error(t, err)
}

func TestSessionManagerRotateReturnsFreshPair(t *testing.T) {
	ctx := context.Background()
	manager, repo, codec, sink := newSessionManager(t)

	accountID := uuid.New()

	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	pair, err := manager.Rotate(ctx, session.TokenValue)
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.NotEqual(t, session.TokenValue, pair.Refresh)
	assert.NotEmpty(t, pair.Access)

	accessClaims, err := codec.Decode(pair.Access)
	require.NoError(t, err)
	assert.True(t, codec.IsValid(accessClaims, credentials.TokenClassAccess))
	assert.Equal(t, accountID.String(), accessClaims.AccountID)

	// the new refresh token is the live session, the old one is gone
	live, err := repo.sessions.GetByTokenValue(ctx, pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, accountID, live.AccountID)

	_, err = repo.sessions.GetByTokenValue(ctx, session.TokenValue)
	assert.Error(t, err)

	assert.Len(t, sink.eventsOf(credentials.ActivityEventSessionRotated), 1)
}

func TestSessionManagerReplayedTokenBurnsLiveSession(t *testing.T) {
	ctx := context.Background()
	manager, repo, _, sink := newSessionManager(t)

	accountID := uuid.New()

	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	pair, err := manager.Rotate(ctx, session.TokenValue)
	require.NoError(t, err)

	// replaying the consumed token destroys the fresh session too
	_, err = manager.Rotate(ctx, session.TokenValue)
	require.ErrorIs(t, err, credentials.ErrInvalidToken)
	assert.Equal(t, 0, repo.sessions.sessionCount())

	burned := sink.eventsOf(credentials.ActivityEventSessionBurned)
	require.Len(t, burned, 1)
	assert.Equal(t, accountID.String(), burned[0].AccountID)
	assert.Equal(t, true, burned[0].Metadata["destroyed_live_session"])

	// the fresh pair is now dead as well
	_, err = manager.Rotate(ctx, pair.Refresh)
	require.ErrorIs(t, err, credentials.ErrInvalidToken)
}

func TestSessionManagerRotateRejectsGarbageToken(t *testing.T) {
	ctx := context.Background()
	manager, repo, _, sink := newSessionManager(t)

	accountID := uuid.New()
	_, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	_, err = manager.Rotate(ctx, "garbage")
	require.ErrorIs(t, err, credentials.ErrInvalidToken)

	// an undecodable value cannot name an account, so nothing burns
	assert.Equal(t, 1, repo.sessions.sessionCount())
	assert.Empty(t, sink.eventsOf(credentials.ActivityEventSessionBurned))
}

func TestSessionManagerRotateBurnsOnForgedButSignedToken(t *testing.T) {
	ctx := context.Background()
	manager, repo, codec, _ := newSessionManager(t)

	accountID := uuid.New()
	_, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	// correctly signed for the right account but never persisted as a
	// session, e.g. exfiltrated from a backup
	forged, err := codec.Encode(codec.NewClaims(accountID.String(), credentials.TokenClassRefresh), credentials.TokenClassRefresh)
	require.NoError(t, err)

	_, err = manager.Rotate(ctx, forged)
	require.ErrorIs(t, err, credentials.ErrInvalidToken)
	assert.Equal(t, 0, repo.sessions.sessionCount())
}

func TestSessionManagerRotateBurnsOnExpiredRefresh(t *testing.T) {
	ctx := context.Background()
	manager, repo, codec, _ := newSessionManager(t)

	issuedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	codec.WithClock(fixedClock(issuedAt))

	accountID := uuid.New()
	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	codec.WithClock(fixedClock(issuedAt.Add(400 * time.Hour)))

	_, err = manager.Rotate(ctx, session.TokenValue)
	require.ErrorIs(t, err, credentials.ErrInvalidToken)
	assert.Equal(t, 0, repo.sessions.sessionCount())
}

func TestSessionManagerActivityChoreography(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	codec := credentials.NewTokenCodec(newTestConfig()).WithLogger(testLogger{})
	sink := &MockActivitySink{}

	manager := credentials.NewRefreshSessionManager(repo, codec).
		WithLogger(testLogger{}).
		WithActivitySink(sink)

	accountID := uuid.New()

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt credentials.ActivityEvent) bool {
		return evt.EventType == credentials.ActivityEventSessionIssued &&
			evt.AccountID == accountID.String()
	})).Return(nil).Once()

	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	sink.On("Record", mock.Anything, mock.MatchedBy(func(evt credentials.ActivityEvent) bool {
		return evt.EventType == credentials.ActivityEventSessionRevoked &&
			evt.Metadata["token"] == session.TokenValue
	})).Return(nil).Once()

	revoked, err := manager.Revoke(ctx, session.TokenValue)
	require.NoError(t, err)
	assert.True(t, revoked)

	sink.AssertExpectations(t)
}

func TestSessionManagerRevoke(t *testing.T) {
	ctx := context.Background()
	manager, repo, _, sink := newSessionManager(t)

	accountID := uuid.New()
	session, err := manager.Issue(ctx, accountID)
	require.NoError(t, err)

	revoked, err := manager.Revoke(ctx, session.TokenValue)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, 0, repo.sessions.sessionCount())
	assert.Len(t, sink.eventsOf(credentials.ActivityEventSessionRevoked), 1)

	// second revoke finds nothing and stays quiet
	revoked, err = manager.Revoke(ctx, session.TokenValue)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Len(t, sink.eventsOf(credentials.ActivityEventSessionRevoked), 1)
}
