package dispatch_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/dispatch"
	"github.com/quarrylabs/quarry/internal/domain/model"
	"github.com/quarrylabs/quarry/internal/strategy"
	"github.com/quarrylabs/quarry/internal/testutil"
)

// Exercises the full claim-execute-settle path against a real database:
// a job submitted through the row-claim source comes out the other side
// completed, with its result persisted.
func TestDispatcher_RowClaimEndToEnd(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		mgr, err := data.NewConnectionManager(data.ConnectionManagerOptions{
			DSN: testutil.DefaultTestDBConfig().DSN(),
		})
		require.NoError(t, err)
		require.NoError(t, mgr.Connect(ctx))
		defer mgr.Close(ctx)

		source, err := data.NewRowClaimSource(data.RowClaimSourceOptions{Manager: mgr, DB: db})
		require.NoError(t, err)
		status, err := data.NewStatusRepo(data.StatusRepoOptions{DB: db})
		require.NoError(t, err)

		reg := strategy.NewRegistry()
		require.NoError(t, reg.Register("noop", strategy.NewNoopStrategy()))

		d, err := dispatch.NewDispatcher(dispatch.DispatcherOptions{
			Manager:      mgr,
			Primary:      source,
			Registry:     reg,
			Status:       status,
			OwnerID:      "worker-e2e",
			PollInterval: 20 * time.Millisecond,
			JobTimeout:   10 * time.Second,
		})
		require.NoError(t, err)

		stop := runDispatcher(t, d)
		defer stop()

		_, err = source.Enqueue(ctx, model.JobPayload{
			JobKey:     "e2e-job",
			Kind:       "noop",
			Parameters: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		var rec *model.JobRecord
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			rec, err = status.GetByKey(ctx, "e2e-job")
			require.NoError(t, err)
			if rec.Status == model.JobStatusCompleted {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}

		require.Equal(t, model.JobStatusCompleted, rec.Status)
		assert.NotEmpty(t, rec.Result)
		assert.Nil(t, rec.Error)
	})
}
