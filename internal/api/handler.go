package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pharmacy-service/internal/bot"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/spreadsheet"
	"pharmacy-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface
type Options struct {
	APIKey         string
	AllowedOrigins []string
	Checks         map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	dispatcher *bot.Dispatcher
	catalog    *service.CatalogService
	hub        *Hub
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(dispatcher *bot.Dispatcher, catalog *service.CatalogService, hub *Hub, opts Options) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		catalog:    catalog,
		hub:        hub,
		opts:       opts,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(cors.New(h.corsConfig()))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.requireAPIKey)
	{
		v1.POST("/events", h.postEvent)
		v1.POST("/events/upload", h.uploadDocument)
		v1.GET("/catalog/export", h.exportCatalog)
		v1.GET("/catalog/template", h.importTemplate)
	}

	router.GET("/ws/orders", h.requireAPIKey, h.hub.Serve)
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-API-KEY", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	var origins []string
	for _, o := range h.opts.AllowedOrigins {
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// requireAPIKey rejects requests without the configured key. No key configured means open access.
func (h *Handler) requireAPIKey(c *gin.Context) {
	if h.opts.APIKey == "" {
		c.Next()
		return
	}
	key := c.GetHeader("X-API-KEY")
	if key == "" {
		key = c.Query("api_key")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.APIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}
	c.Next()
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports the failing ones
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, p := range h.opts.Checks {
		if err := p.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// postEvent handles one inbound chat event and returns the replies
func (h *Handler) postEvent(c *gin.Context) {
	var ev bot.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if ev.ID == "" {
		ev.ID = c.GetHeader("Idempotency-Key")
	}
	h.dispatch(c, &ev)
}

// uploadDocument turns a multipart spreadsheet upload into a document event
func (h *Handler) uploadDocument(c *gin.Context) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file", "details": err.Error()})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file", "details": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file", "details": err.Error()})
		return
	}

	h.dispatch(c, &bot.Event{
		ID:        c.PostForm("id"),
		UserID:    userID,
		FirstName: c.PostForm("first_name"),
		Kind:      bot.KindDocument,
		FileName:  header.Filename,
		File:      data,
	})
}

func (h *Handler) dispatch(c *gin.Context, ev *bot.Event) {
	responses, err := h.dispatcher.Dispatch(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("Failed to dispatch event", zap.Int64("user_id", ev.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle event"})
		return
	}
	if responses == nil {
		responses = []*bot.Response{}
	}
	c.JSON(http.StatusOK, gin.H{"responses": responses})
}

// exportCatalog streams the active catalog as a workbook
func (h *Handler) exportCatalog(c *gin.Context) {
	medicines, err := h.catalog.ListMedicines(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load catalog", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load catalog"})
		return
	}

	var buf bytes.Buffer
	if err := spreadsheet.WriteCatalog(&buf, medicines); err != nil {
		h.logger.Error("Failed to render catalog", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render catalog"})
		return
	}
	name := fmt.Sprintf("catalog-%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, spreadsheet.ContentType, buf.Bytes())
}

// importTemplate serves an empty import workbook with one example row
func (h *Handler) importTemplate(c *gin.Context) {
	var buf bytes.Buffer
	if err := spreadsheet.WriteTemplate(&buf); err != nil {
		h.logger.Error("Failed to render template", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render template"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="medicine-import-template.xlsx"`)
	c.Data(http.StatusOK, spreadsheet.ContentType, buf.Bytes())
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
