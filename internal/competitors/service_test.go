package competitors

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
)

type fakeStore struct {
	mu       sync.Mutex
	snap     corpus.Snapshot
	scores   map[string]decimal.Decimal
	stored   map[string][]CompetitorMetric
	failFor  string
	texts    map[string]string
	loads    int
	reads    int
	replaced []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snap:   sharedQuerySnapshot(),
		scores: map[string]decimal.Decimal{"a.com": decimal.RequireFromString("40")},
		stored: make(map[string][]CompetitorMetric),
		texts:  map[string]string{"q1": "best crm", "q2": "crm pricing"},
	}
}

func (f *fakeStore) LoadCorpus(ctx context.Context) (corpus.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.snap, nil
}

func (f *fakeStore) CurrentScores(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f.scores, nil
}

func (f *fakeStore) ReplaceCompetitorMetrics(ctx context.Context, target string, rows []CompetitorMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if target == f.failFor {
		return errors.New("deadlock detected")
	}
	f.stored[target] = rows
	f.replaced = append(f.replaced, target)
	return nil
}

func (f *fakeStore) CompetitorMetrics(ctx context.Context, target string) ([]CompetitorMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.stored[target], nil
}

func (f *fakeStore) QueryTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if text, ok := f.texts[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

func TestServiceRefreshAll(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil, nil, Options{Concurrency: 2}, zaptest.NewLogger(t))

	summary, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Targets)
	assert.Zero(t, summary.Failed)
	sort.Strings(store.replaced)
	assert.Equal(t, []string{"a.com", "b.com", "c.com", "d.com", "t.com"}, store.replaced)
	assert.Equal(t, []string{"a.com", "b.com", "d.com"}, domains(store.stored["t.com"]))
	assert.Equal(t, 1, store.loads, "one snapshot serves every target")
}

func TestServiceRefreshAllPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.failFor = "b.com"
	svc := NewService(store, nil, nil, Options{Concurrency: 3}, zaptest.NewLogger(t))

	summary, err := svc.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, store.replaced, 4, "other targets still refresh")
}

func TestServiceListUsesCacheThenStore(t *testing.T) {
	store := newFakeStore()
	cache, _ := newTestCache(t)
	svc := NewService(store, cache, nil, Options{}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "https://www.T.com/")
	require.NoError(t, err)
	require.Contains(t, store.stored, "t.com")

	first, err := svc.List(ctx, "t.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com", "d.com"}, domains(first))
	assert.Equal(t, 1, store.reads)

	second, err := svc.List(ctx, "www.t.com")
	require.NoError(t, err)
	assert.Equal(t, domains(first), domains(second))
	assert.Equal(t, 1, store.reads, "second read is served from cache")

	// a refresh drops the cached list
	_, err = svc.Refresh(ctx, "t.com")
	require.NoError(t, err)
	_, err = svc.List(ctx, "t.com")
	require.NoError(t, err)
	assert.Equal(t, 2, store.reads)
}

func TestServiceListComputesWhenNothingStored(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil, nil, Options{}, zaptest.NewLogger(t))

	rows, err := svc.List(context.Background(), "t.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com", "d.com"}, domains(rows))
	assert.Empty(t, store.replaced, "on-demand results are not persisted")
}

func TestServiceQueries(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil, nil, Options{}, zaptest.NewLogger(t))
	ctx := context.Background()

	rows, err := svc.Queries(ctx, "t.com", "A.com")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "crm pricing", rows[0].QueryText)
	assert.Equal(t, "best crm", rows[1].QueryText)

	_, err = svc.Queries(ctx, "t.com", "www.t.com")
	assert.ErrorIs(t, err, ErrSameDomain)

	_, err = svc.Queries(ctx, "", "a.com")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}
