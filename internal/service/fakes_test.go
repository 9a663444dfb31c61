package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"classifyhub/internal/classifier"
	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/features"
	"classifyhub/internal/port"

	"github.com/stretchr/testify/require"
)

// fakeSource 内存中的远程数据源，可以模拟额度、错误序列和阻塞
type fakeSource struct {
	mu        sync.Mutex
	repos     map[domain.RepositoryID]*domain.RawRepository
	errs      map[domain.RepositoryID][]error
	calls     map[domain.RepositoryID]int
	remaining int
	resetAt   time.Time
	callsPer  int

	gate    chan struct{}
	started chan domain.RepositoryID
}

func newFakeSource(remaining int) *fakeSource {
	return &fakeSource{
		repos:     make(map[domain.RepositoryID]*domain.RawRepository),
		errs:      make(map[domain.RepositoryID][]error),
		calls:     make(map[domain.RepositoryID]int),
		remaining: remaining,
		resetAt:   time.Now().Add(time.Hour),
		callsPer:  1,
	}
}

func (s *fakeSource) add(raws ...*domain.RawRepository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range raws {
		s.repos[r.ID] = r
	}
}

func (s *fakeSource) callsTo(id domain.RepositoryID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *fakeSource) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *fakeSource) Fetch(ctx context.Context, id domain.RepositoryID) (*domain.RawRepository, port.Quota, error) {
	if s.started != nil {
		s.started <- id
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, port.Quota{}, fmt.Errorf("%w: %v", common.ErrTransientFetch, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++

	if queue := s.errs[id]; len(queue) > 0 {
		s.errs[id] = queue[1:]
		return nil, s.quota(), queue[0]
	}
	if s.remaining < s.callsPer {
		return nil, s.quota(), common.ErrRateLimited
	}
	s.remaining -= s.callsPer

	raw, ok := s.repos[id]
	if !ok {
		return nil, s.quota(), fmt.Errorf("%w: %s", common.ErrNotFound, id)
	}
	cp := *raw
	cp.FetchedAt = time.Now()
	return &cp, s.quota(), nil
}

func (s *fakeSource) quota() port.Quota {
	return port.Quota{Remaining: s.remaining, ResetAt: s.resetAt, Known: true}
}

func (s *fakeSource) CallsPerFetch() int { return s.callsPer }

func (s *fakeSource) RateLimit(context.Context) (port.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota(), nil
}

func (s *fakeSource) RandomRepositories(_ context.Context, n int) ([]domain.RepositoryID, port.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.RepositoryID
	for id := range s.repos {
		if len(ids) == n {
			break
		}
		ids = append(ids, id)
	}
	return ids, s.quota(), nil
}

// memCache 内存缓存
type memCache struct {
	mu      sync.Mutex
	entries map[domain.RepositoryID]domain.CacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[domain.RepositoryID]domain.CacheEntry)}
}

func (c *memCache) Get(_ context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.Expired(time.Now(), maxAge) {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *memCache) Put(_ context.Context, e *domain.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = *e
	return nil
}

func (c *memCache) InvalidateOlderThan(_ context.Context, maxAge time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, e := range c.entries {
		if e.Expired(time.Now(), maxAge) {
			delete(c.entries, id)
			n++
		}
	}
	return n, nil
}

func (c *memCache) Close() error { return nil }

func (c *memCache) has(id domain.RepositoryID) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// classRepo 每个分类一个特征互不重叠的仓库
func classRepo(c domain.ClassLabel, variant int) *domain.RawRepository {
	tag := fmt.Sprintf("%s%d", c, variant)
	return &domain.RawRepository{
		ID: domain.RepositoryID{Owner: "owner-" + tag, Name: "proj-" + tag},
		Metadata: domain.Metadata{
			Name:          "proj-" + tag,
			Language:      "Lang" + tag,
			DefaultBranch: "main",
			Size:          int(c)*100 + variant,
			Stargazers:    int(c) * 7,
		},
		Languages:      map[string]int{"Lang" + tag: 1000},
		Tree:           []domain.TreeEntry{{Path: "src/file." + tag, Type: "blob"}},
		Readme:         "readme-" + tag,
		CommitMessages: []string{"commit-" + tag},
	}
}

func classRepos(variants int) map[domain.ClassLabel][]*domain.RawRepository {
	out := make(map[domain.ClassLabel][]*domain.RawRepository)
	for _, c := range domain.AllClasses() {
		for v := 0; v < variants; v++ {
			out[c] = append(out[c], classRepo(c, v))
		}
	}
	return out
}

// trainedHolder 用每个分类一个仓库训练出的模型
func trainedHolder(t *testing.T) *ensemble.Holder {
	t.Helper()
	var examples []domain.Example
	for _, c := range domain.AllClasses() {
		examples = append(examples, domain.Example{Features: features.Extract(classRepo(c, 0)), Label: c})
	}
	members := classifier.NewRegistry().Build()
	for _, m := range members {
		require.NoError(t, m.Train(context.Background(), examples))
	}
	h := ensemble.NewHolder()
	h.Store(ensemble.New(members, nil))
	return h
}
