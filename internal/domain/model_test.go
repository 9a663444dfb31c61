package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassLabel_String(t *testing.T) {
	assert.Equal(t, "DEV", DEV.String())
	assert.Equal(t, "OTHER", OTHER.String())
	assert.Equal(t, "ClassLabel(9)", ClassLabel(9).String())
	assert.Len(t, AllClasses(), NumClasses)
}

func TestParseClassLabel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ClassLabel
		wantErr bool
	}{
		{name: "大写名称", input: "DATA", want: DATA},
		{name: "小写名称", input: "web", want: WEB},
		{name: "带空格", input: "  docs ", want: DOCS},
		{name: "未知名称", input: "GAME", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassLabel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDistribution_Best(t *testing.T) {
	tests := []struct {
		name string
		dist Distribution
		want ClassLabel
	}{
		{name: "唯一最大值", dist: Distribution{0.1, 0.2, 0.5, 0.1, 0.1, 0, 0}, want: EDU},
		{name: "平局取枚举靠前者", dist: Distribution{0, 0, 0, 0.4, 0, 0.4, 0}, want: DOCS},
		{name: "全零返回 DEV", dist: Distribution{}, want: DEV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dist.Best())
		})
	}
}

func TestDistribution_NormalizedAndClamped(t *testing.T) {
	d := Distribution{2, 0, 0, 0, 0, 0, 2}
	n := d.Normalized()
	assert.InDelta(t, 0.5, n[DEV], 1e-9)
	assert.InDelta(t, 0.5, n[OTHER], 1e-9)

	zero := Distribution{}
	assert.Equal(t, zero, zero.Normalized())

	neg := Distribution{-1, 0.5}
	assert.Equal(t, 0.0, neg.Clamped()[DEV])
	assert.Equal(t, 0.5, neg.Clamped()[HW])
}

func TestRepositoryID(t *testing.T) {
	id := RepositoryID{Owner: "torvalds", Name: "linux"}
	assert.Equal(t, "torvalds/linux", id.String())
	assert.Equal(t, "https://github.com/torvalds/linux", id.URL())
	assert.False(t, id.IsZero())
	assert.True(t, RepositoryID{Owner: "x"}.IsZero())
}

func TestCacheEntry_Expired(t *testing.T) {
	fetched := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &CacheEntry{FetchedAt: fetched}

	assert.False(t, e.Expired(fetched.Add(time.Hour), 2*time.Hour))
	assert.False(t, e.Expired(fetched.Add(2*time.Hour), 2*time.Hour))
	assert.True(t, e.Expired(fetched.Add(2*time.Hour+time.Second), 2*time.Hour))
}

func TestRateBudget_Display(t *testing.T) {
	assert.Equal(t, -1, RateBudget{}.Display())
	assert.Equal(t, 42, RateBudget{Remaining: 42, Known: true}.Display())
}
