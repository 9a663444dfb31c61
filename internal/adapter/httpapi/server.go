package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"classifyhub/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// NewRouter 注册全部路由，metrics 为空时不暴露 /metrics
func NewRouter(h *Handler, metrics http.Handler, log logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/health", h.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/status", h.Status)
	v1.POST("/computation", h.StartComputation)
	v1.DELETE("/computation", h.CancelComputation)
	v1.GET("/learning", h.CheckLearningNeeded)
	v1.POST("/learning", h.StartLearning)
	v1.POST("/validate", h.TestValidInput)
	v1.GET("/results", h.ResultList)
	v1.POST("/results/save", h.SaveResults)
	v1.GET("/results/:owner/:name", h.Result)
	v1.GET("/results/:owner/:name/classifiers/:classifier", h.ClassifierProb)
	v1.GET("/classifiers", h.ClassifierNames)
	v1.GET("/rate-limit", h.RateLimit)
	v1.GET("/random", h.RandomRepositories)
	return router
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}

// Server 带优雅关闭的 HTTP 服务
type Server struct {
	server *http.Server
	log    logger.Logger
}

func NewServer(addr string, router *gin.Engine, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		log: log,
	}
}

// Run 阻塞直到 ctx 结束或服务出错，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", logger.String("address", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("HTTP server stopped gracefully")
	return nil
}
