// Package mockserver implements an OpenAI-compatible inference server
// stand-in for exercising the harness without GPU hardware. It honors the
// same launch contract as a real server: a health endpoint, model listing,
// and streamed completions.
package mockserver

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Options configures mock server behavior
type Options struct {
	ModelID    string
	TokenDelay time.Duration // pause between streamed tokens
	ReadyDelay time.Duration // how long /health returns 503 after start
	FailEvery  int           // every n-th completion request returns 500, 0 disables
}

// Server is a mock inference server
type Server struct {
	opts     Options
	engine   *gin.Engine
	started  time.Time
	requests atomic.Int64
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt" binding:"required"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// New creates a mock server with the given options.
func New(opts Options) *Server {
	if opts.ModelID == "" {
		opts.ModelID = "mock-llama-3.1-8b"
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/v1/models", s.handleModels)
	s.engine.POST("/v1/completions", s.handleCompletions)

	return s
}

// Handler returns the HTTP handler, for mounting in tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	if time.Since(s.started) < s.opts.ReadyDelay {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": s.opts.ModelID, "object": "model"},
		},
	})
}

func (s *Server) handleCompletions(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := s.requests.Add(1)
	if s.opts.FailEvery > 0 && n%int64(s.opts.FailEvery) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
		return
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16
	}

	if !req.Stream {
		c.JSON(http.StatusOK, gin.H{
			"object": "text_completion",
			"model":  s.opts.ModelID,
			"choices": []gin.H{
				{"text": strings.Repeat("tok ", maxTokens), "index": 0, "finish_reason": "length"},
			},
			"usage": gin.H{"completion_tokens": maxTokens},
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	for i := 0; i < maxTokens; i++ {
		if s.opts.TokenDelay > 0 {
			time.Sleep(s.opts.TokenDelay)
		}
		fmt.Fprintf(c.Writer, "data: {\"choices\":[{\"text\":\"tok%d \",\"index\":0}]}\n\n", i)
		flusher.Flush()
	}
	fmt.Fprintf(c.Writer, "data: {\"choices\":[{\"text\":\"\",\"index\":0,\"finish_reason\":\"length\"}],\"usage\":{\"completion_tokens\":%d}}\n\n", maxTokens)
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}
