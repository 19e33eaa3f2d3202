// Package simulator is an in-process stand-in for the remote translation
// service. Each progress query advances a job by a fixed step, so a test or
// demo can drive the full pipeline without network access.
package simulator

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Config shapes the simulated service's behaviour.
type Config struct {
	// Token, when set, is required as a Bearer token on every request.
	Token string
	// ProgressStep is added to a job's progress on every query.
	ProgressStep float64
	// FailLocales reject job creation for these locales.
	FailLocales []string
	// StallLocales never advance past zero.
	StallLocales []string
	// FailQueryLocales make progress queries return 500.
	FailQueryLocales []string
	// RejectFiles reject uploads whose file name matches.
	RejectFiles []string
}

// Job is the simulated state of one remote job.
type Job struct {
	ID        string
	ProjectID string
	Name      string
	Locale    string
	Progress  float64
	Cancelled bool
}

// File is one uploaded file.
type File struct {
	ID          string
	ProjectID   string
	Name        string
	ContentType string
	Size        int
}

type Simulator struct {
	cfg Config

	mu    sync.Mutex
	seq   atomic.Int64
	jobs  map[string]*Job
	files map[string]*File
}

func New(cfg Config) *Simulator {
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 50
	}
	return &Simulator{
		cfg:   cfg,
		jobs:  make(map[string]*Job),
		files: make(map[string]*File),
	}
}

// Handler returns the gin engine serving the remote API.
func (s *Simulator) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.auth())

	p := r.Group("/projects/:projectId")
	p.POST("/files", s.uploadFile)
	p.POST("/jobs", s.createJob)
	p.GET("/jobs/:jobId", s.getJob)
	p.POST("/jobs/:jobId/cancel", s.cancelJob)
	p.GET("/jobs/:jobId/download", s.download)
	return r
}

func (s *Simulator) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.cfg.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Simulator) uploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file part"})
		return
	}
	if contains(s.cfg.RejectFiles, fh.Filename) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("unsupported file %s", fh.Filename)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file := &File{
		ID:          s.nextID("file"),
		ProjectID:   c.Param("projectId"),
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        len(data),
	}
	s.mu.Lock()
	s.files[file.ID] = file
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"fileId": file.ID})
}

func (s *Simulator) createJob(c *gin.Context) {
	var req struct {
		Name         string `json:"name"`
		TargetLocale string `json:"targetLocale" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if contains(s.cfg.FailLocales, req.TargetLocale) {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("locale %s unavailable", req.TargetLocale)})
		return
	}

	job := &Job{
		ID:        s.nextID("rjob"),
		ProjectID: c.Param("projectId"),
		Name:      req.Name,
		Locale:    req.TargetLocale,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"jobId": job.ID})
}

func (s *Simulator) getJob(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[c.Param("jobId")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if contains(s.cfg.FailQueryLocales, job.Locale) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "progress unavailable"})
		return
	}
	if !job.Cancelled && !contains(s.cfg.StallLocales, job.Locale) {
		job.Progress += s.cfg.ProgressStep
		if job.Progress > 100 {
			job.Progress = 100
		}
	}
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "progress": job.Progress, "cancelled": job.Cancelled})
}

func (s *Simulator) cancelJob(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[c.Param("jobId")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	job.Cancelled = true
	c.Status(http.StatusNoContent)
}

func (s *Simulator) download(c *gin.Context) {
	s.mu.Lock()
	job, ok := s.jobs[c.Param("jobId")]
	s.mu.Unlock()
	if !ok || job.Progress < 100 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "locale": job.Locale, "name": job.Name})
}

// Jobs returns a copy of every remote job created so far.
func (s *Simulator) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Files returns a copy of every uploaded file.
func (s *Simulator) Files() []File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, *f)
	}
	return out
}

func (s *Simulator) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.seq.Add(1))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
