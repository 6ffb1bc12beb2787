/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gostoryboard/internal/domain"
	applog "gostoryboard/internal/log"
	"gostoryboard/internal/scene"
	"gostoryboard/internal/script"
	"gostoryboard/internal/storage"
	"gostoryboard/internal/storyboard"
	"gostoryboard/internal/version"
)

const maxBodyBytes = 8 << 20

// Catalog is what the HTTP API needs from the project store. *Store implements it.
type Catalog interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, p domain.Project, by string) (PublishResult, error)
	ListProjects(ctx context.Context) ([]ProjectSummary, error)
	Project(ctx context.Context, stableID string) (domain.Project, error)
	Shots(ctx context.Context, stableID string) ([]domain.Shot, error)
	Search(ctx context.Context, stableID string, q storage.SearchQuery) ([]storage.SearchResult, error)
	Delete(ctx context.Context, stableID string) error
}

var _ Catalog = (*Store)(nil)

// ServerConfig wires the API. Catalog and Divider are optional; the routes that
// need them answer 503 when missing.
type ServerConfig struct {
	Catalog     Catalog
	Secret      []byte
	Divider     storyboard.Divider
	Validator   *scene.Validator
	Concurrency int
}

// Server is the catalog and storyboard HTTP API.
type Server struct {
	cfg    ServerConfig
	jobs   *jobHub
	engine *gin.Engine
	log    *slog.Logger
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("backend: signing secret is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = scene.NewValidator(nil)
	}
	s := &Server{cfg: cfg, jobs: newJobHub(), log: applog.WithComponent("backend")}

	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", s.ready)
	r.GET("/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.String()}) })
	r.POST("/api/auth/token", s.issueToken)

	api := r.Group("/api", AuthMiddleware(cfg.Secret))
	{
		api.GET("/projects", s.listProjects)
		api.GET("/projects/:id", s.getProject)
		api.PUT("/projects/:id", s.putProject)
		api.DELETE("/projects/:id", s.deleteProject)
		api.GET("/projects/:id/shots", s.getShots)
		api.GET("/projects/:id/search", s.search)
		api.POST("/validate", s.validate)
		api.POST("/split", s.split)
		api.POST("/generate", s.generate)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/jobs/:id/ws", s.jobSocket)
	}
	s.engine = r
	return s, nil
}

// Handler exposes the router for http.Server and httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("api listening", slog.String("addr", addr))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		lvl := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			lvl = slog.LevelError
		}
		s.log.Log(c.Request.Context(), lvl, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// catalogError maps store errors to responses.
func (s *Server) catalogError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		respondError(c, http.StatusNotFound, "project not found")
		return
	}
	s.log.Error("catalog failure", slog.String("path", c.FullPath()), slog.Any("err", err))
	respondError(c, http.StatusInternalServerError, "catalog error")
}

func (s *Server) catalog(c *gin.Context) (Catalog, bool) {
	if s.cfg.Catalog == nil {
		respondError(c, http.StatusServiceUnavailable, "catalog not configured")
		return nil, false
	}
	return s.cfg.Catalog, true
}

func (s *Server) ready(c *gin.Context) {
	if s.cfg.Catalog == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "catalog": false})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Catalog.Ping(ctx); err != nil {
		respondError(c, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "catalog": true})
}

type tokenRequest struct {
	Subject    string `json:"subject"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// issueToken mints tokens for local tooling; it refuses non-loopback callers.
func (s *Server) issueToken(c *gin.Context) {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		host = c.Request.RemoteAddr
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		respondError(c, http.StatusForbidden, "tokens are only issued to local clients")
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		req.Subject = "local"
	}
	tok, exp, err := IssueToken(s.cfg.Secret, req.Subject, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "could not issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "expires_at": exp.UTC()})
}

func (s *Server) listProjects(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	list, err := cat.ListProjects(c.Request.Context())
	if err != nil {
		s.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getProject(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	p, err := cat.Project(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// putProject publishes a manifest. Shots are revalidated and renumbered so the
// catalog never stores values outside the vocabulary.
func (s *Server) putProject(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var p domain.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, http.StatusBadRequest, "invalid project manifest")
		return
	}
	id := c.Param("id")
	if p.ID != "" && p.ID != id {
		respondError(c, http.StatusBadRequest, "project id does not match path")
		return
	}
	p.ID = id
	p.Scenes = s.cfg.Validator.Revalidate(p.Scenes)
	scene.Renumber(p.Scenes)
	res, err := cat.Publish(c.Request.Context(), p, subject(c))
	if err != nil {
		s.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) deleteProject(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	if err := cat.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.catalogError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getShots(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	shots, err := cat.Shots(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, shots)
}

func (s *Server) search(c *gin.Context) {
	cat, ok := s.catalog(c)
	if !ok {
		return
	}
	q := storage.SearchQuery{
		Text:      c.Query("q"),
		Character: c.Query("character"),
		Location:  c.Query("location"),
		Types:     c.QueryArray("type"),
		SceneFrom: queryInt(c, "from"),
		SceneTo:   queryInt(c, "to"),
		Limit:     queryInt(c, "limit"),
		Offset:    queryInt(c, "offset"),
	}
	res, err := cat.Search(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		s.catalogError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

// validate accepts raw model output and returns the normalized shots.
func (s *Server) validate(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		respondError(c, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	shots, err := s.cfg.Validator.ValidateJSON(body)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c.JSON(http.StatusOK, shots)
}

type splitRequest struct {
	Text         string `json:"text"`
	MaxChars     int    `json:"max_chars"`
	OverlapChars *int   `json:"overlap_chars"`
	KeepGoing    bool   `json:"keep_going"`
}

func (r splitRequest) params() (int, int) {
	maxChars, overlap := r.MaxChars, script.DefaultOverlapChars
	if maxChars == 0 {
		maxChars = script.DefaultMaxChars
	}
	if r.OverlapChars != nil {
		overlap = *r.OverlapChars
	}
	return maxChars, overlap
}

func (s *Server) split(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	maxChars, overlap := req.params()
	sp, err := script.NewSplitter(maxChars, overlap)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, sp.Info(req.Text))
}

// generate starts a storyboard job and returns its id; progress is polled via
// /jobs/:id or streamed over /jobs/:id/ws.
func (s *Server) generate(c *gin.Context) {
	if s.cfg.Divider == nil {
		respondError(c, http.StatusServiceUnavailable, "no model configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(c, http.StatusBadRequest, "text is empty")
		return
	}
	maxChars, overlap := req.params()
	if _, err := script.NewSplitter(maxChars, overlap); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	id := s.jobs.start(func(ctx context.Context, progress func(storyboard.Event)) (*storyboard.Result, error) {
		p, err := storyboard.New(s.cfg.Divider, s.cfg.Validator, storyboard.Options{
			MaxChars:     maxChars,
			OverlapChars: overlap,
			Concurrency:  s.cfg.Concurrency,
			KeepGoing:    req.KeepGoing,
			Progress:     progress,
		})
		if err != nil {
			return nil, err
		}
		return p.Run(ctx, req.Text)
	})
	s.log.Info("generation job started", slog.String("job", id), slog.String("by", subject(c)))
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (s *Server) getJob(c *gin.Context) {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) jobSocket(c *gin.Context) {
	id := c.Param("id")
	past, live, cancel, ok := s.jobs.subscribe(id)
	if !ok {
		respondError(c, http.StatusNotFound, "job not found")
		return
	}
	defer cancel()
	if err := streamJob(c.Writer, c.Request, past, live, func() (Job, bool) { return s.jobs.get(id) }); err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("job", id), slog.Any("err", err))
	}
}
