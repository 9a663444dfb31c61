package github

import (
	"context"
	"math/rand/v2"
	"strings"

	"classifyhub/internal/domain"
	"classifyhub/internal/port"

	"github.com/google/go-github/v53/github"
)

// maxRepositoryID 随机起点的上界，与公开仓库 ID 的量级一致
const maxRepositoryID = 58000000

func defaultRandSince() int64 {
	return rand.Int64N(maxRepositoryID) + 1
}

// RandomRepositories 从随机 ID 开始列出公开仓库，返回前 n 个
func (s *Source) RandomRepositories(ctx context.Context, n int) ([]domain.RepositoryID, port.Quota, error) {
	var quota port.Quota
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, quota, classify(nil, err)
	}

	repos, resp, err := s.client.Repositories.ListAll(ctx, &github.RepositoryListAllOptions{
		Since: s.randSince(),
	})
	if q, ok := quotaOf(resp); ok {
		quota = q
	}
	if err != nil {
		return nil, quota, classify(resp, err)
	}

	var ids []domain.RepositoryID
	for _, r := range repos {
		if len(ids) >= n {
			break
		}
		owner, name, ok := strings.Cut(r.GetFullName(), "/")
		if !ok || owner == "" || name == "" {
			continue
		}
		ids = append(ids, domain.RepositoryID{Owner: owner, Name: name})
	}
	return ids, quota, nil
}

// RateLimit 查询核心 API 的剩余额度，该接口本身不消耗额度
func (s *Source) RateLimit(ctx context.Context) (port.Quota, error) {
	limits, resp, err := s.client.RateLimits(ctx)
	if err != nil {
		return port.Quota{}, classify(resp, err)
	}
	core := limits.GetCore()
	if core == nil {
		return port.Quota{}, nil
	}
	return port.Quota{
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
		Known:     true,
	}, nil
}
