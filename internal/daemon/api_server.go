package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyloom/internal/assets"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/services"
	"storyloom/internal/story"
)

const requestIDHeader = "X-Request-ID"

type apiServer struct {
	cfg    *config.Config
	logger *slog.Logger
	daemon *Daemon
	engine *gin.Engine

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	gin.SetMode(gin.ReleaseMode)
	srv := &apiServer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		engine: gin.New(),
	}
	srv.routes()
	srv.server = &http.Server{
		Handler:           srv.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() {
	r := s.engine
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)
	if s.cfg.Server.Metrics && s.daemon.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.daemon.deps.Metrics.Handler()))
	}
	r.Static("/videos", s.cfg.Paths.OutputDir)

	api := r.Group("/api", authMiddleware(s.cfg.Server.Token))
	api.GET("/status", s.handleStatus)

	api.POST("/runs", s.handleStartRun)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.POST("/runs/:id/combine", s.handleCombineRun)

	api.POST("/videos/combine", s.handleCombineVideos)

	api.GET("/plans", s.handleListPlans)
	api.GET("/plans/:id", s.handleGetPlan)
	api.GET("/plans/:id/assets", s.handleListAssets)
	api.DELETE("/plans/:id", s.handleDeletePlan)

	chat := api.Group("/chat/sessions", s.requireChat)
	chat.POST("", s.handleCreateChat)
	chat.GET("/:id", s.handleChatHistory)
	chat.POST("/:id/messages", s.handleChatMessage)
	chat.DELETE("/:id", s.handleDeleteChat)
}

func (s *apiServer) start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Server.Listen)
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Server.Listen
}

func (s *apiServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), rid))

		c.Next()

		logger := logging.WithContext(c.Request.Context(), s.logger)
		attrs := logging.Args(
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("api request failed", attrs...)
			return
		}
		logger.Debug("api request", attrs...)
	}
}

func (s *apiServer) requireChat(c *gin.Context) {
	if s.daemon.Chat() == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "companion chat is not configured"})
		return
	}
	c.Next()
}

func (s *apiServer) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), s.logger), "api request error", "api_error",
			logging.String("path", c.FullPath()),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *apiServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.daemon.Store().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *apiServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.daemon.Status())
}

type startRunRequest struct {
	Description string `json:"description"`
	Lesson      string `json:"lesson"`
	Language    string `json:"language"`
	// Image is a data URI, or bare base64 with ImageMIMEType.
	Image         string `json:"image"`
	ImageMIMEType string `json:"imageMimeType"`
}

func (r startRunRequest) input() (pipeline.Input, error) {
	in := pipeline.Input{Description: r.Description, Lesson: r.Lesson, Language: r.Language}
	encoded := strings.TrimSpace(r.Image)
	if encoded == "" {
		return in, nil
	}
	var (
		img generation.Image
		err error
	)
	if strings.HasPrefix(encoded, "data:") {
		img, err = generation.ParseDataURI(encoded)
	} else {
		img, err = generation.DecodeBase64Image(encoded, r.ImageMIMEType)
	}
	if err != nil {
		return in, &pipeline.InvalidInputError{Field: "image", Reason: err.Error()}
	}
	in.Image = &img
	return in, nil
}

func (s *apiServer) handleStartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(c, err)
		return
	}
	id, err := s.daemon.StartRun(in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id})
}

type runResponse struct {
	RunID          string      `json:"runId"`
	State          string      `json:"state"`
	Stage          string      `json:"stage,omitempty"`
	Index          int         `json:"index,omitempty"`
	Progress       string      `json:"progress"`
	Error          string      `json:"error,omitempty"`
	Plan           *story.Plan `json:"plan"`
	CharacterModel *string     `json:"characterModel"`
	Keyframes      []*string   `json:"keyframes"`
	Clips          []*string   `json:"clips"`
	Final          *string     `json:"final"`
}

func (s *apiServer) runResponse(c *gin.Context, snap pipeline.Snapshot) runResponse {
	resp := runResponse{
		RunID:     snap.RunID,
		State:     string(snap.Status.State),
		Stage:     string(snap.Status.Stage),
		Index:     snap.Status.Index,
		Progress:  snap.Progress,
		Error:     snap.Status.Reason,
		Plan:      snap.Plan,
		Keyframes: make([]*string, len(snap.Keyframes)),
		Clips:     make([]*string, len(snap.Clips)),
	}
	if snap.CharacterModel != nil {
		uri := snap.CharacterModel.DataURI()
		resp.CharacterModel = &uri
	}
	for i, kf := range snap.Keyframes {
		if kf != nil {
			uri := kf.DataURI()
			resp.Keyframes[i] = &uri
		}
	}
	for i, clip := range snap.Clips {
		if clip != nil {
			uri := clip.URI
			resp.Clips[i] = &uri
		}
	}
	if snap.Final != nil {
		location := s.publicURL(c, snap.Final.Location)
		resp.Final = &location
	}
	return resp
}

func (s *apiServer) handleListRuns(c *gin.Context) {
	snaps := s.daemon.Runs()
	out := make([]gin.H, 0, len(snaps))
	for _, snap := range snaps {
		keyframes, clips := snap.Filled()
		out = append(out, gin.H{
			"runId":     snap.RunID,
			"state":     snap.Status.State,
			"stage":     snap.Status.Stage,
			"progress":  snap.Progress,
			"keyframes": keyframes,
			"clips":     clips,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *apiServer) handleGetRun(c *gin.Context) {
	snap, err := s.daemon.Snapshot(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.runResponse(c, snap))
}

func (s *apiServer) handleCombineRun(c *gin.Context) {
	out, err := s.daemon.CombineRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success, "videoUrl": s.publicURL(c, out.Location)})
}

type combineRequest struct {
	VideoURLs []string `json:"videoUrls"`
}

func (s *apiServer) handleCombineVideos(c *gin.Context) {
	var req combineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	out, err := s.daemon.CombineVideos(c.Request.Context(), req.VideoURLs)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": out.Success, "videoUrl": s.publicURL(c, out.Location)})
}

func (s *apiServer) handleListPlans(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	plans, err := s.daemon.Store().ListPlans(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *apiServer) handleGetPlan(c *gin.Context) {
	rec, err := s.daemon.Store().GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	plan, err := rec.Plan()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "plan": plan})
}

func (s *apiServer) handleListAssets(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.daemon.Store().GetPlan(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	list, err := s.daemon.Store().ListAssets(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []assets.Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (s *apiServer) handleDeletePlan(c *gin.Context) {
	if err := s.daemon.DeletePlan(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createChatRequest struct {
	PlanID string `json:"planId"`
}

func (s *apiServer) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := s.daemon.Chat().Create(c.Request.Context(), req.PlanID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type chatMessageRequest struct {
	Message string `json:"message"`
}

func (s *apiServer) handleChatMessage(c *gin.Context) {
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := s.daemon.Chat().Send(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *apiServer) handleChatHistory(c *gin.Context) {
	session, msgs, err := s.daemon.Chat().History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []assets.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": msgs})
}

func (s *apiServer) handleDeleteChat(c *gin.Context) {
	if err := s.daemon.Chat().Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// publicURL exposes files under the output directory through /videos. Other
// locations are returned unchanged.
func (s *apiServer) publicURL(c *gin.Context, location string) string {
	if location == "" || strings.Contains(location, "://") {
		return location
	}
	rel, err := filepath.Rel(s.cfg.Paths.OutputDir, location)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return location
	}
	base := s.cfg.Server.PublicBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/videos/" + filepath.ToSlash(rel)
}
