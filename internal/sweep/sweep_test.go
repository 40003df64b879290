package sweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
)

func testConfig() config.SweepConfig {
	return config.SweepConfig{
		DataIntervalSeconds:  7 * 24 * 3600,
		LockIntervalSeconds:  3600,
		InactivitySeconds:    300,
		RowRetentionSeconds:  7 * 24 * 3600,
		LockFileMaxAgeSecond: 3600,
	}
}

// P8: a session favorited in settings is never deleted by the empty-session
// sweep, even though it has no messages.
func TestRun_FavoriteSessionSurvivesEmptySweep(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	projectID, err := st.UpsertProject(ctx, "/p")
	require.NoError(t, err)
	require.NoError(t, st.UpsertSession(ctx, "fav", projectID, store.StatusEnded, "", nil, nil))
	st.SetSettings(store.Settings{FavoriteSessions: []string{"fav"}})

	require.NoError(t, Run(ctx, testConfig(), t.TempDir(), st, logger.Default()))

	_, err = st.GetSession(ctx, "fav")
	assert.NoError(t, err, "favorited empty session must survive the sweep")
}

// P10: an empty, non-favorited session (no messages, at most one null-body
// prompt) is deleted by the data sweep.
func TestRun_DeletesEmptyNonFavoriteSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	projectID, err := st.UpsertProject(ctx, "/p")
	require.NoError(t, err)
	require.NoError(t, st.UpsertSession(ctx, "empty", projectID, store.StatusEnded, "", nil, nil))
	_, err = st.CreatePrompt(ctx, "empty", nil)
	require.NoError(t, err)

	require.NoError(t, Run(ctx, testConfig(), t.TempDir(), st, logger.Default()))

	_, err = st.GetSession(ctx, "empty")
	assert.Error(t, err, "empty non-favorite session should be deleted")

	notifications := st.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, store.ChannelSessionsDeleted, notifications[0].Channel)
}

func TestRun_CleanupThrottled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.RecordCleanup(ctx, store.CleanupData))

	require.NoError(t, Run(ctx, testConfig(), t.TempDir(), st, logger.Default()))

	recent, err := st.HasRecentCleanup(ctx, store.CleanupData, int64(testConfig().DataIntervalSeconds))
	require.NoError(t, err)
	assert.True(t, recent)
}
