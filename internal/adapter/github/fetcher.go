package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/port"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// callsPerFetch 一次 Fetch 的请求数：元数据、语言、git 树、README、提交
const callsPerFetch = 5

const maxCommitMessages = 100

// Source 实现了 port.RemoteSource 接口
type Source struct {
	client    *github.Client
	pacer     *rate.Limiter
	randSince func() int64
}

// NewSource 初始化 GitHub 客户端
// token 为空时匿名访问，限制 60 次/小时；rps 限制本进程发出请求的速度
func NewSource(token string, rps float64) *Source {
	var client *github.Client

	if token == "" {
		client = github.NewClient(nil)
	} else {
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	}

	return newSource(client, rps)
}

func newSource(client *github.Client, rps float64) *Source {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Source{
		client:    client,
		pacer:     rate.NewLimiter(limit, burst),
		randSince: defaultRandSince,
	}
}

func (s *Source) CallsPerFetch() int {
	return callsPerFetch
}

// Fetch 拉取单个仓库的全部原始数据
// 仓库本身 404 时返回 ErrNotFound；子资源（README、空仓库的树和提交）缺失时留空
func (s *Source) Fetch(ctx context.Context, id domain.RepositoryID) (*domain.RawRepository, port.Quota, error) {
	var quota port.Quota
	track := func(resp *github.Response) {
		if q, ok := quotaOf(resp); ok {
			quota = q
		}
	}

	// 1. 元数据
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, quota, classify(nil, err)
	}
	repo, resp, err := s.client.Repositories.Get(ctx, id.Owner, id.Name)
	track(resp)
	if err != nil {
		return nil, quota, classify(resp, err)
	}

	raw := &domain.RawRepository{
		ID:       id,
		Metadata: metadataOf(repo),
	}

	// 2. 语言
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, quota, classify(nil, err)
	}
	langs, resp, err := s.client.Repositories.ListLanguages(ctx, id.Owner, id.Name)
	track(resp)
	if err != nil && !isMissing(resp) {
		return nil, quota, classify(resp, err)
	}
	raw.Languages = langs

	// 3. git 树
	if branch := raw.Metadata.DefaultBranch; branch != "" {
		if err := s.pacer.Wait(ctx); err != nil {
			return nil, quota, classify(nil, err)
		}
		tree, resp, err := s.client.Git.GetTree(ctx, id.Owner, id.Name, branch, true)
		track(resp)
		if err != nil && !isMissing(resp) {
			return nil, quota, classify(resp, err)
		}
		if tree != nil {
			for _, e := range tree.Entries {
				raw.Tree = append(raw.Tree, domain.TreeEntry{Path: e.GetPath(), Type: e.GetType()})
			}
		}
	}

	// 4. README
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, quota, classify(nil, err)
	}
	readme, resp, err := s.client.Repositories.GetReadme(ctx, id.Owner, id.Name, nil)
	track(resp)
	if err != nil && !isMissing(resp) {
		return nil, quota, classify(resp, err)
	}
	if readme != nil {
		content, decodeErr := readme.GetContent()
		if decodeErr == nil {
			raw.Readme = content
		}
	}

	// 5. 最近的提交信息
	if err := s.pacer.Wait(ctx); err != nil {
		return nil, quota, classify(nil, err)
	}
	commits, resp, err := s.client.Repositories.ListCommits(ctx, id.Owner, id.Name, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: maxCommitMessages},
	})
	track(resp)
	if err != nil && !isMissing(resp) {
		return nil, quota, classify(resp, err)
	}
	for _, c := range commits {
		if msg := c.GetCommit().GetMessage(); msg != "" {
			raw.CommitMessages = append(raw.CommitMessages, msg)
		}
	}

	raw.FetchedAt = time.Now().UTC()
	return raw, quota, nil
}

func metadataOf(r *github.Repository) domain.Metadata {
	return domain.Metadata{
		Name:          r.GetName(),
		Description:   r.GetDescription(),
		Homepage:      r.GetHomepage(),
		Language:      r.GetLanguage(),
		DefaultBranch: r.GetDefaultBranch(),
		Fork:          r.GetFork(),
		HasWiki:       r.GetHasWiki(),
		HasPages:      r.GetHasPages(),
		Size:          r.GetSize(),
		Stargazers:    r.GetStargazersCount(),
		Watchers:      r.GetWatchersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Subscribers:   r.GetSubscribersCount(),
	}
}

// quotaOf 从响应头中读取额度，响应不带额度头时 ok 为 false
func quotaOf(resp *github.Response) (port.Quota, bool) {
	if resp == nil || resp.Rate.Limit == 0 {
		return port.Quota{}, false
	}
	return port.Quota{
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Time,
		Known:     true,
	}, true
}

// isMissing 子资源不存在：404，或空仓库返回的 409
func isMissing(resp *github.Response) bool {
	return resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict)
}

// classify 把 go-github 的错误归类为 ErrNotFound / ErrRateLimited / ErrTransientFetch
func classify(resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return common.WrapError(common.ErrCodeRateLimited, "GitHub API 额度耗尽", fmt.Errorf("%w: %v", common.ErrRateLimited, err))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return common.WrapError(common.ErrCodeRateLimited, "GitHub API 触发次级限流", fmt.Errorf("%w: %v", common.ErrRateLimited, err))
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		status := errResp.Response.StatusCode
		switch {
		case status == http.StatusNotFound:
			return common.WrapError(common.ErrCodeNotFound, "仓库不存在", fmt.Errorf("%w: %v", common.ErrNotFound, err))
		case strings.Contains(errResp.Message, "API rate limit exceeded"):
			return common.WrapError(common.ErrCodeRateLimited, "GitHub API 额度耗尽", fmt.Errorf("%w: %v", common.ErrRateLimited, err))
		case status >= 500:
			return common.WrapError(common.ErrCodeGitHubAPI, "GitHub 服务端错误", fmt.Errorf("%w: %v", common.ErrTransientFetch, err))
		default:
			return common.WrapError(common.ErrCodeGitHubAPI, fmt.Sprintf("GitHub API 调用失败 (%d)", status), err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return common.WrapError(common.ErrCodeGitHubAPI, "GitHub 请求超时或网络错误", fmt.Errorf("%w: %v", common.ErrTransientFetch, err))
	}
	if resp != nil && resp.StatusCode >= 500 {
		return common.WrapError(common.ErrCodeGitHubAPI, "GitHub 服务端错误", fmt.Errorf("%w: %v", common.ErrTransientFetch, err))
	}
	return common.WrapError(common.ErrCodeGitHubAPI, "GitHub API 调用失败", fmt.Errorf("%w: %v", common.ErrTransientFetch, err))
}
