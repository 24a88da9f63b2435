package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/llm"
	"github.com/storyforge/tapestry/internal/store"
)

type Server struct {
	Engine *core.Engine
	Store  store.GraphStore
}

func NewServer() *Server {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("No config file at %s, using defaults: %v", cfgPath, err)
		cfg = config.Default()
	}

	applyEnvOverrides(cfg)

	s, err := store.New(context.Background(),
		cfg.Store.Backend, cfg.Store.DSN, cfg.Store.URI, cfg.Store.User, cfg.Store.Password)
	if err != nil {
		log.Fatalf("Failed to open graph store (%s): %v", cfg.Store.Backend, err)
	}

	llmClient, embedderClient, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	if llmClient == nil {
		log.Println("No LLM provider configured, running graph-only")
	}

	return &Server{
		Engine: core.NewEngine(cfg, s, llmClient, embedderClient),
		Store:  s,
	}
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		cfg.Store.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/scenes/:id/extract", s.ExtractScene)
	r.POST("/context", s.BuildContext)
	r.POST("/search", s.Search)
	r.GET("/ego/:id", s.Ego)
	r.POST("/verify", s.Verify)
	r.GET("/analysis/summary", s.AnalysisSummary)
	r.PUT("/overrides/theme", s.PutThemeOverride)
	r.GET("/issues", s.Issues)
	r.POST("/foreshadows/:id/resolve", s.ResolveForeshadow)
	r.POST("/foreshadows/:id/abandon", s.AbandonForeshadow)
	r.POST("/reindex", s.Reindex)

	return r
}

// writeError maps engine errors onto HTTP statuses. Ontology violations are
// the caller's fault; provider failures surface as 503.
func writeError(c *gin.Context, err error) {
	switch {
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type ExtractRequest struct {
	Ordinal int    `json:"ordinal"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) ExtractScene(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	delta, err := s.Engine.ExtractScene(c.Request.Context(), c.Param("id"), req.Ordinal, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, delta)
}

type ContextRequest struct {
	Query       string `json:"query" binding:"required"`
	TokenBudget int    `json:"token_budget"`
}

func (s *Server) BuildContext(c *gin.Context) {
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	payload, err := s.Engine.BuildContext(c.Request.Context(), req.Query, req.TokenBudget)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k"`
}

func (s *Server) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	hits, err := s.Engine.SemanticSearch(c.Request.Context(), req.Query, req.K)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func (s *Server) Ego(c *gin.Context) {
	radius, _ := strconv.Atoi(c.Query("radius"))

	ego, err := s.Engine.EgoGraph(c.Request.Context(), c.Param("id"), radius)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ego)
}

type VerifyRequest struct {
	Tier string `json:"tier" binding:"required"`
}

func (s *Server) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	issues, skipped, err := s.Engine.RunVerification(c.Request.Context(), model.Tier(req.Tier))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues, "skipped": skipped})
}

func (s *Server) AnalysisSummary(c *gin.Context) {
	summary, err := s.Engine.AnalysisSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) PutThemeOverride(c *gin.Context) {
	var ov model.ThemeOverride
	if err := c.ShouldBindJSON(&ov); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.Engine.SetThemeOverride(c.Request.Context(), &ov); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) Issues(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	issues, err := s.Engine.Issues(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

type ResolveRequest struct {
	SceneID string `json:"scene_id"`
}

func (s *Server) ResolveForeshadow(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	callback, err := s.Engine.ResolveForeshadow(c.Request.Context(), c.Param("id"), req.SceneID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, callback)
}

func (s *Server) AbandonForeshadow(c *gin.Context) {
	if err := s.Engine.AbandonForeshadow(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) Reindex(c *gin.Context) {
	count, err := s.Engine.ReindexStale(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reindexed": count})
}
