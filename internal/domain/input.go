package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var repoURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?github\.com/([A-Za-z0-9\-_.]+)/([A-Za-z0-9\-_.]+?)/?$`)

var shortPattern = regexp.MustCompile(`^([A-Za-z0-9\-_.]+)/([A-Za-z0-9\-_.]+)$`)

// ParseRepositoryID 解析 GitHub 仓库地址或 owner/name 简写
// 以 .git 结尾的克隆地址不被接受
func ParseRepositoryID(input string) (RepositoryID, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return RepositoryID{}, fmt.Errorf("empty repository input")
	}
	if strings.HasSuffix(strings.TrimSuffix(s, "/"), ".git") {
		return RepositoryID{}, fmt.Errorf("clone url not accepted: %q", input)
	}
	m := repoURLPattern.FindStringSubmatch(s)
	if m == nil && !strings.Contains(s, "github.com") {
		m = shortPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return RepositoryID{}, fmt.Errorf("not a github repository url: %q", input)
	}
	id := RepositoryID{Owner: m[1], Name: m[2]}
	if id.IsZero() || id.Owner == "." || id.Owner == ".." || id.Name == "." || id.Name == ".." {
		return RepositoryID{}, fmt.Errorf("not a github repository url: %q", input)
	}
	return id, nil
}

// ParseInputList 把多行输入解析为仓库列表，空行跳过
// 遇到第一个非法行即返回错误，bad 为出错的原始行
func ParseInputList(text string) (ids []RepositoryID, bad string, err error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, perr := ParseRepositoryID(line)
		if perr != nil {
			return nil, line, perr
		}
		ids = append(ids, id)
	}
	return ids, "", nil
}
