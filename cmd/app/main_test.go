package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"classifyhub/internal/config"
	"classifyhub/internal/domain"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
	"classifyhub/internal/service"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCacheStore 模拟 CacheStore 接口
type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) Get(ctx context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.CacheEntry, bool, error) {
	args := m.Called(ctx, id, maxAge)
	entry, _ := args.Get(0).(*domain.CacheEntry)
	return entry, args.Bool(1), args.Error(2)
}

func (m *MockCacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockCacheStore) InvalidateOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	args := m.Called(ctx, maxAge)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCacheStore) Close() error {
	return m.Called().Error(0)
}

// fakeView 固定结果的 resultView
type fakeView struct {
	classes  map[string]string
	probs    map[string]float64
	order    []string
	failures map[string]string
}

func (v *fakeView) ResultList() []string        { return v.order }
func (v *fakeView) Failures() map[string]string { return v.failures }
func (v *fakeView) Class(owner, name string) string {
	return v.classes[owner+"/"+name]
}
func (v *fakeView) Prob(owner, name, class string) float64 {
	return v.probs[owner+"/"+name+"/"+class]
}

func TestNewRootCommand(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"classify", "learn", "validate", "serve", "rate-limit", "random", "check", "save-config"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}

func TestRootOptions_Load(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("input: from-file.txt\noutput: out.txt\nnumber_worker: 2\n"), 0o644))

	tests := []struct {
		name       string
		args       []string
		wantInput  string
		wantWorker int
		wantLevel  string
	}{
		{name: "只用配置文件", args: nil, wantInput: "from-file.txt", wantWorker: 2, wantLevel: "info"},
		{name: "参数覆盖配置文件", args: []string{"--input", "cli.txt", "--number-worker", "6"}, wantInput: "cli.txt", wantWorker: 6, wantLevel: "info"},
		{name: "调试模式", args: []string{"--debug"}, wantInput: "from-file.txt", wantWorker: 2, wantLevel: "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &rootOptions{cfgFile: cfgFile}
			cmd := newClassifyCommand(opts)
			cmd.Flags().BoolVar(&opts.debug, "debug", false, "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, log, err := opts.load(cmd)
			require.NoError(t, err)
			require.NotNil(t, log)
			assert.Equal(t, tt.wantInput, cfg.Input)
			assert.Equal(t, "out.txt", cfg.Output)
			assert.Equal(t, tt.wantWorker, cfg.Workers())
			assert.Equal(t, tt.wantLevel, cfg.Log.Level)
		})
	}
}

func TestRootOptions_Load_MissingFile(t *testing.T) {
	opts := &rootOptions{cfgFile: filepath.Join(t.TempDir(), "missing.yaml")}
	_, _, err := opts.load(newCheckCommand(opts))
	assert.Error(t, err)
}

func TestSaveConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("model_path: ./models-a\nk_fold: 4\n"), 0o644))
	target := filepath.Join(dir, "saved", "config.yaml")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"save-config", "--config", cfgFile, "--to", target, "--number-worker", "3"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), target)

	saved, err := config.Load(viper.New(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, "./models-a", saved.ModelPath)
	assert.Equal(t, 4, saved.KFold)
	assert.Equal(t, 3, saved.NumberWorker)
}

// warnCounter 统计 Warn 调用次数
type warnCounter struct {
	logger.Logger
	warns int
}

func (l *warnCounter) Warn(string, ...logger.Field) { l.warns++ }

func TestWarnAnonymous(t *testing.T) {
	log := &warnCounter{Logger: logger.NewNop()}
	warnAnonymous(true, log)
	assert.Zero(t, log.warns)
	warnAnonymous(false, log)
	assert.Equal(t, 1, log.warns)
}

func TestRenderResults(t *testing.T) {
	view := &fakeView{
		order:    []string{"octo/site", "octo/data"},
		classes:  map[string]string{"octo/site": "WEB", "octo/data": "DATA"},
		probs:    map[string]float64{"octo/site/WEB": 0.875, "octo/data/DATA": 1},
		failures: map[string]string{"ghost/gone": "not found"},
	}
	var buf bytes.Buffer
	renderResults(&buf, view)

	out := buf.String()
	assert.Contains(t, out, "octo/site")
	assert.Contains(t, out, "0.88")
	assert.Contains(t, out, "1.00")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "not found")
	assert.Contains(t, out, "1 FAILED")
}

func TestRenderValidation(t *testing.T) {
	report := &service.ValidationReport{
		Folds:   2,
		Total:   4,
		Correct: 3,
		PerClass: []service.ClassScore{
			{Class: domain.DEV, Precision: 1, Recall: 0.5, Support: 2},
			{Class: domain.WEB, Precision: 0.5, Recall: 1, Support: 2},
		},
	}
	var buf bytes.Buffer
	renderValidation(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "DEV")
	assert.Contains(t, out, "0.500")
	assert.Contains(t, out, "0.750")
	assert.Contains(t, out, "2 FOLDS")
}

func TestRenderCheck(t *testing.T) {
	var buf bytes.Buffer
	renderCheck(&buf, checkStatus{
		Authenticated:  false,
		LearningNeeded: true,
		RateRemaining:  -1,
		Classifiers:    []string{"FileClassifier"},
	})
	out := buf.String()
	assert.Contains(t, out, "unknown")
	assert.Contains(t, out, "FileClassifier")
	assert.Contains(t, out, "DEV, HW, EDU, DOCS, WEB, DATA, OTHER")
}

func TestMaintainCache(t *testing.T) {
	tests := []struct {
		name    string
		removed int64
		err     error
		want    float64
	}{
		{name: "清理成功", removed: 3, want: 3},
		{name: "清理失败不计数", err: errors.New("db down"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockCacheStore)
			store.On("InvalidateOlderThan", mock.Anything, 7*24*time.Hour).Return(tt.removed, tt.err).Once()
			m := metrics.New()

			maintainCache(context.Background(), store, 7*24*time.Hour, m, logger.NewNop())

			store.AssertExpectations(t)
			assert.Equal(t, tt.want, testutil.ToFloat64(m.CacheInvalidated))
		})
	}
}
