package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forzax/cycleloop/pkg/types"
)

func testContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("campaigns", func(t *testing.T) {
		_, err := s.GetCampaign(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		a := types.Campaign{ID: "a", Brand: "Acme", TargetAudience: "Budget shoppers", MarketingGoal: "Increase trial",
			CurrentCycle: 1, CreatedAt: base, UpdatedAt: base, Status: types.CampaignActive}
		b := a
		b.ID, b.CreatedAt = "b", base.Add(-time.Hour)
		require.NoError(t, s.SaveCampaign(ctx, a))
		require.NoError(t, s.SaveCampaign(ctx, b))

		a.CurrentCycle = 3
		a.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.SaveCampaign(ctx, a))

		got, err := s.GetCampaign(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 3, got.CurrentCycle)
		assert.Equal(t, "Budget shoppers", got.TargetAudience)
		assert.True(t, got.UpdatedAt.Equal(a.UpdatedAt))

		list, err := s.ListCampaigns(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "b", list[0].ID)
		assert.Equal(t, "a", list[1].ID)
	})

	t.Run("cycles upsert and order", func(t *testing.T) {
		c2 := types.NewCycle("a", 2, base)
		c1 := types.NewCycle("a", 1, base)
		other := types.NewCycle("b", 1, base)
		for _, c := range []*types.Cycle{c2, c1, other} {
			require.NoError(t, s.SaveCycle(ctx, c))
		}

		c1.Stages[types.StageResearch].Begin(base)
		c1.Stages[types.StageResearch].Complete("brief", base.Add(time.Second))
		c1.CurrentStage = types.StageTaste
		require.NoError(t, s.UpdateCycle(ctx, c1))

		got, err := s.GetCycle(ctx, "a-cycle-1")
		require.NoError(t, err)
		assert.Equal(t, types.StageTaste, got.CurrentStage)
		assert.Equal(t, "brief", got.Stages[types.StageResearch].AgentOutput)
		assert.Equal(t, types.StageComplete, got.Stages[types.StageResearch].Status)
		assert.Equal(t, types.StagePending, got.Stages[types.StageMemories].Status)
		assert.NoError(t, got.Validate())

		list, err := s.GetCyclesByCampaign(ctx, "a")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 1, list[0].CycleNumber)
		assert.Equal(t, 2, list[1].CycleNumber)

		_, err = s.GetCycle(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Error(t, s.UpdateCycle(ctx, &types.Cycle{}))
	})

	t.Run("delete campaign removes cycles", func(t *testing.T) {
		require.NoError(t, s.DeleteCampaign(ctx, "b"))
		_, err := s.GetCampaign(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)
		list, err := s.GetCyclesByCampaign(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.ErrorIs(t, s.DeleteCampaign(ctx, "b"), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	testContract(t, NewMemoryStore())
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	c := types.NewCycle("a", 1, time.Now())
	require.NoError(t, s.SaveCycle(context.Background(), c))
	c.Stages[types.StageResearch].AgentOutput = "mutated"

	got, err := s.GetCycle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Stages[types.StageResearch].AgentOutput)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cycles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testContract(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveCycle(context.Background(), types.NewCycle("a", 1, time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetCyclesByCampaign(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Stages, len(types.StageOrder))
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(" ", nil)
	assert.Error(t, err)
}

// TestFirestoreStore runs against the Firestore emulator when one is configured.
func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "cycleloop-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	testContract(t, NewFirestoreStore(client, nil))
}
