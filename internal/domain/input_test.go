package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepositoryID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RepositoryID
		wantErr bool
	}{
		{name: "完整 https 地址", input: "https://github.com/gohugoio/hugo", want: RepositoryID{"gohugoio", "hugo"}},
		{name: "http 带 www", input: "http://www.github.com/a-b/c_d.e", want: RepositoryID{"a-b", "c_d.e"}},
		{name: "无协议", input: "github.com/owner/repo/", want: RepositoryID{"owner", "repo"}},
		{name: "简写", input: "owner/repo", want: RepositoryID{"owner", "repo"}},
		{name: "前后空格", input: "  https://github.com/x/y  ", want: RepositoryID{"x", "y"}},
		{name: "克隆地址", input: "https://github.com/owner/repo.git", wantErr: true},
		{name: "其他域名", input: "https://gitlab.com/owner/repo", wantErr: true},
		{name: "缺少仓库名", input: "https://github.com/owner", wantErr: true},
		{name: "多级路径", input: "https://github.com/owner/repo/tree/main", wantErr: true},
		{name: "空输入", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRepositoryID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInputList(t *testing.T) {
	ids, bad, err := ParseInputList("https://github.com/a/b\n\n  c/d \n")
	require.NoError(t, err)
	assert.Empty(t, bad)
	assert.Equal(t, []RepositoryID{{"a", "b"}, {"c", "d"}}, ids)

	_, bad, err = ParseInputList("a/b\nnot a url\n")
	assert.Error(t, err)
	assert.Equal(t, "not a url", bad)
}
