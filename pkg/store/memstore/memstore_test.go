package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/jobforge/jobforge/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Status string `json:"status"`
	Value  int    `json:"value"`
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t", "pk", "sk", row{Status: "queued", Value: 1}, store.Condition{Kind: store.NoCondition}))

	var got row
	found, err := s.Get(ctx, "t", "pk", "sk", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "queued", got.Status)
}

func TestPutAttrNotExistsRejectsOverwrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t", "pk", "sk", row{Status: "queued"}, store.Condition{Kind: store.AttrNotExists}))

	err := s.Put(ctx, "t", "pk", "sk", row{Status: "queued"}, store.Condition{Kind: store.AttrNotExists})
	var condErr *store.ErrConditionFailed
	require.ErrorAs(t, err, &condErr)
}

func TestPutAttrEqualsOnlyAppliesWhenMatched(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t", "pk", "sk", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))

	err := s.Put(ctx, "t", "pk", "sk", row{Status: "claimed"}, store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "running"})
	var condErr *store.ErrConditionFailed
	require.ErrorAs(t, err, &condErr)

	require.NoError(t, s.Put(ctx, "t", "pk", "sk", row{Status: "claimed"}, store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "queued"}))
	var got row
	_, _ = s.Get(ctx, "t", "pk", "sk", &got)
	assert.Equal(t, "claimed", got.Status)
}

func TestTransactWriteAppliesNothingOnAnyConditionFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t", "pk", "sk-a", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))

	err := s.TransactWrite(ctx, []store.WriteOp{
		{Table: "t", PK: "pk", SK: "sk-a", Item: row{Status: "claimed"}, Condition: store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "queued"}},
		{Table: "t", PK: "pk", SK: "sk-b", Item: row{Status: "new"}, Condition: store.Condition{Kind: store.AttrNotExists}},
		{Table: "t", PK: "pk", SK: "sk-a", Item: row{Status: "bogus"}, Condition: store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "never-matches"}},
	})
	var condErr *store.ErrConditionFailed
	require.ErrorAs(t, err, &condErr)

	var a row
	found, _ := s.Get(ctx, "t", "pk", "sk-a", &a)
	require.True(t, found)
	assert.Equal(t, "queued", a.Status, "failed transaction must not partially apply")

	_, found = s.Get(ctx, "t", "pk", "sk-b", &row{})
	assert.False(t, found)
}

// TestConcurrentConditionalClaimsAreDisjoint exercises property 2: many
// goroutines racing a conditional claim on the same row must see exactly
// one winner.
func TestConcurrentConditionalClaimsAreDisjoint(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "jobs", "pk", "job-1", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))

	const workers = 50
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := s.Put(ctx, "jobs", "pk", "job-1", row{Status: "claimed"}, store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "queued"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

func TestScanFiltersAcrossPartitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "jobs", "pk-a", "j1", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))
	require.NoError(t, s.Put(ctx, "jobs", "pk-b", "j2", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))
	require.NoError(t, s.Put(ctx, "jobs", "pk-b", "j3", row{Status: "running"}, store.Condition{Kind: store.NoCondition}))

	var rows []row
	err := s.Scan(ctx, "jobs", store.QueryOptions{
		Filter: func(m map[string]any) bool { return m["status"] == "queued" },
	}, &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueryScopesToOnePartition(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "jobs", "pk-a", "j1", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))
	require.NoError(t, s.Put(ctx, "jobs", "pk-b", "j2", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))

	var rows []row
	err := s.Query(ctx, "jobs", "pk-a", store.QueryOptions{}, &rows)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeleteHonorsCondition(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "t", "pk", "sk", row{Status: "queued"}, store.Condition{Kind: store.NoCondition}))

	err := s.Delete(ctx, "t", "pk", "sk", store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "running"})
	var condErr *store.ErrConditionFailed
	require.ErrorAs(t, err, &condErr)

	require.NoError(t, s.Delete(ctx, "t", "pk", "sk", store.Condition{Kind: store.AttrEquals, Attr: "status", Value: "queued"}))
	_, found := s.Get(ctx, "t", "pk", "sk", &row{})
	assert.False(t, found)
}
