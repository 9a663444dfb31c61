package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/logger"
	"classifyhub/internal/port"

	"github.com/google/uuid"
)

const (
	currentFile  = "CURRENT"
	manifestFile = "manifest.json"
	genPrefix    = "gen-"
	modelSuffix  = ".model"
)

// ErrNoModel 模型目录中没有可用的已发布模型
var ErrNoModel = errors.New("no published model")

// Manifest 描述一次发布
type Manifest struct {
	Generation  string    `json:"generation"`
	Classifiers []string  `json:"classifiers"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store 以“先写入新目录，再切换 CURRENT”的方式发布模型
// 读者要么看到旧的完整模型，要么看到新的完整模型
type Store struct {
	dir     string
	log     logger.Logger
	nowFunc func() time.Time
	newID   func() string
}

func NewStore(dir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		dir:     dir,
		log:     log,
		nowFunc: time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

func (s *Store) Dir() string { return s.dir }

// Publish 写入一个新世代并切换过去，然后清理旧世代
func (s *Store) Publish(e *Ensemble, fingerprint string) (Manifest, error) {
	if !e.Ready() {
		return Manifest{}, common.WrapError(common.ErrCodeModel, "不能发布未训练的模型", common.ErrModelNotReady)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Manifest{}, common.WrapError(common.ErrCodeModel, "创建模型目录失败", err)
	}

	m := Manifest{
		Generation:  genPrefix + s.newID(),
		Classifiers: e.ClassifierNames(),
		Fingerprint: fingerprint,
		CreatedAt:   s.nowFunc().UTC(),
	}
	genDir := filepath.Join(s.dir, m.Generation)
	if err := os.Mkdir(genDir, 0o755); err != nil {
		return Manifest{}, common.WrapError(common.ErrCodeModel, "创建模型世代目录失败", err)
	}

	cleanup := func(err error) (Manifest, error) {
		_ = os.RemoveAll(genDir)
		return Manifest{}, err
	}

	for _, c := range e.Members() {
		data, err := c.MarshalModel()
		if err != nil {
			return cleanup(common.WrapError(common.ErrCodeModel, fmt.Sprintf("序列化 %s 失败", c.Name()), err))
		}
		if err := writeFileSync(filepath.Join(genDir, c.Name()+modelSuffix), data); err != nil {
			return cleanup(common.WrapError(common.ErrCodeModel, fmt.Sprintf("写入 %s 失败", c.Name()), err))
		}
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return cleanup(common.WrapError(common.ErrCodeModel, "序列化 manifest 失败", err))
	}
	if err := writeFileSync(filepath.Join(genDir, manifestFile), manifest); err != nil {
		return cleanup(common.WrapError(common.ErrCodeModel, "写入 manifest 失败", err))
	}
	if err := syncDir(genDir); err != nil {
		return cleanup(common.WrapError(common.ErrCodeModel, "同步模型目录失败", err))
	}

	tmp := filepath.Join(s.dir, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(m.Generation+"\n")); err != nil {
		return cleanup(common.WrapError(common.ErrCodeModel, "写入 CURRENT 失败", err))
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return cleanup(common.WrapError(common.ErrCodeModel, "切换 CURRENT 失败", err))
	}
	if err := syncDir(s.dir); err != nil {
		s.log.Warn("同步模型根目录失败", logger.Error(err))
	}

	s.gc(m.Generation)
	s.log.Info("模型已发布",
		logger.String("generation", m.Generation),
		logger.Strings("classifiers", m.Classifiers))
	return m, nil
}

// Manifest 读取当前世代的 manifest
func (s *Store) Manifest() (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, ErrNoModel
		}
		return Manifest{}, common.WrapError(common.ErrCodeModel, "读取 CURRENT 失败", err)
	}
	gen := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(gen, genPrefix) || strings.ContainsAny(gen, `/\`) {
		return Manifest{}, fmt.Errorf("%w: CURRENT 内容非法", ErrNoModel)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, gen, manifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrNoModel, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest 损坏: %v", ErrNoModel, err)
	}
	if m.Generation != gen {
		return Manifest{}, fmt.Errorf("%w: manifest 与 CURRENT 不一致", ErrNoModel)
	}
	return m, nil
}

// Load 把当前世代读入 members（应为全新实例），分类器集合不一致时视为没有模型
func (s *Store) Load(members []port.Classifier) (*Ensemble, Manifest, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, Manifest{}, err
	}

	names := make([]string, 0, len(members))
	for _, c := range members {
		names = append(names, c.Name())
	}
	if !slices.Equal(names, m.Classifiers) {
		return nil, m, fmt.Errorf("%w: 分类器集合已变化", ErrNoModel)
	}

	for _, c := range members {
		data, err := os.ReadFile(filepath.Join(s.dir, m.Generation, c.Name()+modelSuffix))
		if err != nil {
			return nil, m, fmt.Errorf("%w: %v", ErrNoModel, err)
		}
		if err := c.UnmarshalModel(data); err != nil {
			return nil, m, fmt.Errorf("%w: %v", ErrNoModel, err)
		}
	}
	return New(members, s.log), m, nil
}

// gc 删除除 keep 以外的所有世代目录
func (s *Store) gc(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("清理旧模型失败", logger.Error(err))
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), genPrefix) || entry.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn("删除旧模型世代失败", logger.String("generation", entry.Name()), logger.Error(err))
		}
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
