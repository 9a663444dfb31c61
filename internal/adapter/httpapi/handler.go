// Package httpapi 把 Proxy 的调用暴露为 HTTP 接口
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/proxy"

	"github.com/gin-gonic/gin"
)

// Backend Handler 需要的后端调用，由 proxy.Proxy 实现
type Backend interface {
	StartComputation(input string) error
	CancelComputation()
	StartLearning() error
	TestValidInput(input string) bool
	ResultList() []string
	Failures() map[string]string
	Class(owner, name string) string
	Prob(owner, name, class string) float64
	ClassifierNames() []string
	ClassifierProb(owner, name, class, classifier string) float64
	URL(owner, name string) string
	SaveResults(path string) (bool, error)
	CheckAuthentication() bool
	CheckLearningNeeded() bool
	RemainingRateLimit(ctx context.Context) int
	RandomRepositories(ctx context.Context) (string, error)
	RateStatus() domain.RateBudget
	PausedUntil() time.Time
	Running() bool
	LearningRunning() bool
	SaveReady() bool
	LastError() error
}

type Handler struct {
	backend Backend
	output  string
}

// NewHandler output 是默认结果文件，保存接口只能写到它所在的目录
func NewHandler(backend Backend, output string) *Handler {
	return &Handler{backend: backend, output: output}
}

type inputRequest struct {
	Input string `json:"input"`
}

type saveRequest struct {
	Name string `json:"name"`
}

var errBadFileName = errors.New("文件名只能是输出目录下的普通文件名")

// savePath 空文件名写默认结果文件，否则拼到默认结果文件所在目录
func savePath(output, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return output, nil
	}
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) ||
		name != filepath.Base(name) || name == "." || name == ".." {
		return "", errBadFileName
	}
	return filepath.Join(filepath.Dir(output), name), nil
}

// StartComputation POST /api/v1/computation
func (h *Handler) StartComputation(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.backend.StartComputation(req.Input); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"running": true})
}

// CancelComputation DELETE /api/v1/computation
func (h *Handler) CancelComputation(c *gin.Context) {
	h.backend.CancelComputation()
	c.Status(http.StatusNoContent)
}

// StartLearning POST /api/v1/learning
func (h *Handler) StartLearning(c *gin.Context) {
	if err := h.backend.StartLearning(); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"learning_running": true})
}

// CheckLearningNeeded GET /api/v1/learning
func (h *Handler) CheckLearningNeeded(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"learning_needed": h.backend.CheckLearningNeeded()})
}

// TestValidInput POST /api/v1/validate
func (h *Handler) TestValidInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.backend.TestValidInput(req.Input)})
}

// ResultList GET /api/v1/results
func (h *Handler) ResultList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"repositories": h.backend.ResultList(),
		"failures":     h.backend.Failures(),
	})
}

// Result GET /api/v1/results/:owner/:name
func (h *Handler) Result(c *gin.Context) {
	owner, name := c.Param("owner"), c.Param("name")
	class := h.backend.Class(owner, name)
	if class == proxy.NotFound {
		c.JSON(http.StatusNotFound, gin.H{"class": class})
		return
	}
	probs := make(map[string]float64, domain.NumClasses)
	for _, l := range domain.AllClasses() {
		probs[l.String()] = h.backend.Prob(owner, name, l.String())
	}
	c.JSON(http.StatusOK, gin.H{
		"repository":    owner + "/" + name,
		"url":           h.backend.URL(owner, name),
		"class":         class,
		"probabilities": probs,
	})
}

// ClassifierProb GET /api/v1/results/:owner/:name/classifiers/:classifier
func (h *Handler) ClassifierProb(c *gin.Context) {
	owner, name, classifier := c.Param("owner"), c.Param("name"), c.Param("classifier")
	probs := make(map[string]float64, domain.NumClasses)
	for _, l := range domain.AllClasses() {
		probs[l.String()] = h.backend.ClassifierProb(owner, name, l.String(), classifier)
	}
	c.JSON(http.StatusOK, gin.H{"classifier": classifier, "probabilities": probs})
}

// ClassifierNames GET /api/v1/classifiers
func (h *Handler) ClassifierNames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classifiers": h.backend.ClassifierNames()})
}

// SaveResults POST /api/v1/results/save
func (h *Handler) SaveResults(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path, err := savePath(h.output, req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.backend.SaveResults(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

// RateLimit GET /api/v1/rate-limit
func (h *Handler) RateLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"remaining": h.backend.RemainingRateLimit(c.Request.Context())})
}

// RandomRepositories GET /api/v1/random
func (h *Handler) RandomRepositories(c *gin.Context) {
	repos, err := h.backend.RandomRepositories(c.Request.Context())
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// Status GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	rate := h.backend.RateStatus()
	resp := gin.H{
		"running":          h.backend.Running(),
		"learning_running": h.backend.LearningRunning(),
		"save_ready":       h.backend.SaveReady(),
		"authenticated":    h.backend.CheckAuthentication(),
		"rate_remaining":   rate.Display(),
	}
	if rate.Known {
		resp["rate_reset_at"] = rate.ResetAt.UTC()
	}
	if until := h.backend.PausedUntil(); !until.IsZero() {
		resp["paused_until"] = until.UTC()
	}
	if err := h.backend.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "classifyhub"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, proxy.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrModelNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
