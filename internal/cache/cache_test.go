package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// fakeRedis implements the handful of commands the cache issues.
// Pipeline writes apply eagerly; Exec only reports the injected error.
type fakeRedis struct {
	redis.Cmdable

	strings     map[string]string
	sets        map[string]map[string]struct{}
	getErr      error
	smembersErr error
	execErr     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: map[string]string{},
		sets:    map[string]map[string]struct{}{},
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	val, ok := f.strings[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	default:
		cmd.SetErr(fmt.Errorf("unsupported value type %T", value))
		return cmd
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	set, ok := f.sets[key]
	if !ok {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	for _, m := range members {
		set[fmt.Sprint(m)] = struct{}{}
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if f.smembersErr != nil {
		cmd.SetErr(f.smembersErr)
		return cmd
	}
	members := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		members = append(members, m)
	}
	cmd.SetVal(members)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			removed++
		}
		if _, ok := f.sets[key]; ok {
			delete(f.sets, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) Pipeline() redis.Pipeliner {
	return &fakePipeline{r: f}
}

func (f *fakeRedis) contains(indexKey, member string) bool {
	_, ok := f.sets[indexKey][member]
	return ok
}

type fakePipeline struct {
	redis.Pipeliner
	r *fakeRedis
}

func (p *fakePipeline) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	return p.r.Set(ctx, key, value, ttl)
}

func (p *fakePipeline) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return p.r.SAdd(ctx, key, members...)
}

func (p *fakePipeline) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return p.r.Del(ctx, keys...)
}

func (p *fakePipeline) Exec(context.Context) ([]redis.Cmder, error) {
	return nil, p.r.execErr
}

func newFakeCache(t *testing.T) (*Cache, *fakeRedis) {
	t.Helper()
	r := newFakeRedis()
	return NewWithClient(r, Config{Addr: "fake:6379"}, nil), r
}

func searchEntry(scope tenant.Scope, queryHash string) (string, []vectorstore.SearchResult) {
	key := SearchKey(scope.TenantID, scope.ProjectID, queryHash, nil, 10)
	return key, []vectorstore.SearchResult{{ID: "p-" + queryHash, Score: 0.9}}
}

func TestSetSearchRegistersScopeIndices(t *testing.T) {
	c, r := newFakeCache(t)
	scope := tenant.Scope{TenantID: "acme", ProjectID: "search"}
	ctx := context.Background()

	key, results := searchEntry(scope, "q1")
	c.SetSearch(ctx, scope, key, results)

	got, ok := c.GetSearch(ctx, key)
	if !ok || len(got) != 1 || got[0].ID != "p-q1" {
		t.Fatalf("GetSearch = %+v, %v", got, ok)
	}

	projectIdx := projectIndexKey("acme", "search")
	tenantIdx := tenantIndexKey("acme")
	if !r.contains(projectIdx, key) {
		t.Error("entry key missing from the project index")
	}
	if !r.contains(tenantIdx, key) {
		t.Error("entry key missing from the tenant index")
	}
	if !r.contains(tenantIdx, projectIdx) {
		t.Error("project index missing from the tenant index")
	}
}

func TestInvalidateProjectLeavesSiblingsIntact(t *testing.T) {
	c, r := newFakeCache(t)
	ctx := context.Background()
	scopeA := tenant.Scope{TenantID: "acme", ProjectID: "alpha"}
	scopeB := tenant.Scope{TenantID: "acme", ProjectID: "beta"}

	keyA, resultsA := searchEntry(scopeA, "qa")
	keyB, resultsB := searchEntry(scopeB, "qb")
	c.SetSearch(ctx, scopeA, keyA, resultsA)
	c.SetSearch(ctx, scopeB, keyB, resultsB)

	if err := c.InvalidateProject(ctx, "acme", "alpha"); err != nil {
		t.Fatalf("InvalidateProject: %v", err)
	}

	if _, ok := c.GetSearch(ctx, keyA); ok {
		t.Error("invalidated project entry still cached")
	}
	if _, ok := c.GetSearch(ctx, keyB); !ok {
		t.Error("sibling project entry was swept")
	}
	if _, ok := r.sets[projectIndexKey("acme", "alpha")]; ok {
		t.Error("invalidated project index still present")
	}
	if _, ok := r.sets[projectIndexKey("acme", "beta")]; !ok {
		t.Error("sibling project index was deleted")
	}
}

func TestInvalidateTenantSweepsAllProjects(t *testing.T) {
	c, r := newFakeCache(t)
	ctx := context.Background()
	scopeA := tenant.Scope{TenantID: "acme", ProjectID: "alpha"}
	scopeB := tenant.Scope{TenantID: "acme", ProjectID: "beta"}

	keyA, resultsA := searchEntry(scopeA, "qa")
	keyB, resultsB := searchEntry(scopeB, "qb")
	c.SetSearch(ctx, scopeA, keyA, resultsA)
	c.SetSearch(ctx, scopeB, keyB, resultsB)
	c.SetStats(ctx, scopeA, &vectorstore.CollectionStats{ScopedCount: 3})

	if err := c.InvalidateTenant(ctx, "acme"); err != nil {
		t.Fatalf("InvalidateTenant: %v", err)
	}

	if _, ok := c.GetSearch(ctx, keyA); ok {
		t.Error("alpha entry survived tenant invalidation")
	}
	if _, ok := c.GetSearch(ctx, keyB); ok {
		t.Error("beta entry survived tenant invalidation")
	}
	if _, ok := c.GetStats(ctx, scopeA); ok {
		t.Error("stats entry survived tenant invalidation")
	}
	if _, ok := r.sets[tenantIndexKey("acme")]; ok {
		t.Error("tenant index still present")
	}
}

func TestStatsRoundTrip(t *testing.T) {
	c, _ := newFakeCache(t)
	ctx := context.Background()
	scope := tenant.Scope{TenantID: "acme", ProjectID: "search"}

	if _, ok := c.GetStats(ctx, scope); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.SetStats(ctx, scope, &vectorstore.CollectionStats{PointCount: 42, ScopedCount: 7})
	stats, ok := c.GetStats(ctx, scope)
	if !ok || stats.ScopedCount != 7 {
		t.Errorf("GetStats = %+v, %v", stats, ok)
	}
}

func TestGetFailureDegradesToMiss(t *testing.T) {
	c, r := newFakeCache(t)
	r.getErr = errors.New("redis down")

	if _, ok := c.GetSearch(context.Background(), "search:deadbeef"); ok {
		t.Error("failed lookup must report a miss")
	}
	if _, ok := c.GetEmbedding(context.Background(), "embedding:deadbeef"); ok {
		t.Error("failed lookup must report a miss")
	}
}

func TestInvalidateReportsIndexReadFailure(t *testing.T) {
	c, r := newFakeCache(t)
	r.smembersErr = errors.New("redis down")

	if err := c.InvalidateProject(context.Background(), "acme", "alpha"); err == nil {
		t.Error("expected error when the index cannot be read")
	}
}
