package preview

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/umlcraft/umlcraft-backend/internal/auth"
	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
	"github.com/umlcraft/umlcraft-backend/internal/generation"
)

type handler struct {
	manager *Manager
}

// Register mounts the session operations. The pipeline has no other
// public surface; everything goes through these.
func Register(rg *gin.RouterGroup, manager *Manager) {
	h := &handler{manager: manager}

	rg.POST("/sessions", h.open)
	rg.GET("/sessions/:id", h.state)
	rg.DELETE("/sessions/:id", h.close)

	rg.POST("/sessions/:id/edit", h.startEdit)
	rg.PUT("/sessions/:id/draft", h.setDraft)
	rg.POST("/sessions/:id/generate", h.generate)
	rg.POST("/sessions/:id/render/retry", h.retryRender)
	rg.POST("/sessions/:id/save", h.save)
	rg.POST("/sessions/:id/restore", h.restore)
	rg.POST("/sessions/:id/cancel", h.cancel)
}

type openReq struct {
	ProjectID string `json:"project_id"`
	DiagramID string `json:"diagram_id"`
	Kind      string `json:"kind"`
}

func (h *handler) open(c *gin.Context) {
	uid := auth.UserUID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing user"})
		return
	}

	var req openReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}
	kind, err := domain.ParseKind(strings.TrimSpace(req.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	s, err := h.manager.Open(c.Request.Context(), req.ProjectID, req.DiagramID, kind, uid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "diagram not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "session": sessionView(s)})
}

func (h *handler) lookup(c *gin.Context) (*Session, bool) {
	s, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "session not found"})
		return nil, false
	}
	return s, true
}

func (h *handler) state(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": sessionView(s)})
}

func (h *handler) close(c *gin.Context) {
	h.manager.Close(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handler) startEdit(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := s.StartEdit(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": sessionView(s)})
}

func (h *handler) setDraft(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var d Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}
	if err := s.SetDraft(d); err != nil {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": sessionView(s)})
}

func (h *handler) generate(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	pv, err := s.Generate(c.Request.Context())
	if err != nil {
		writeGenerateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "preview": pv, "session": sessionView(s)})
}

func (h *handler) retryRender(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	pv, err := s.RetryRender(c.Request.Context())
	if err != nil {
		writeGenerateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "preview": pv, "session": sessionView(s)})
}

func (h *handler) save(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	ver, err := s.Save(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyContent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "source content is empty"})
		case errors.Is(err, ErrIllegalTransition):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "version": ver, "session": sessionView(s)})
}

type restoreReq struct {
	VersionNumber int `json:"version_number"`
}

func (h *handler) restore(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req restoreReq
	if err := c.ShouldBindJSON(&req); err != nil || req.VersionNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ver, err := s.Restore(c.Request.Context(), req.VersionNumber)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "version not found"})
		case errors.Is(err, ErrIllegalTransition):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "version": ver, "session": sessionView(s)})
}

func (h *handler) cancel(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := s.CancelEdit(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": sessionView(s)})
}

// writeGenerateError gives each failure cause its own status and a
// distinct, actionable message. None of these are fatal: the draft is
// preserved and the caller may retry.
func writeGenerateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "superseded by a newer request"})
	case errors.Is(err, ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	case RenderExhausted(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"ok": false, "error": "every render server failed", "retryable": true,
		})
	default:
		switch generation.KindOf(err) {
		case generation.KindTransport:
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "generation service unreachable"})
		case generation.KindServerRejected:
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		case generation.KindNoUsableDescription:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "no usable diagram description in response"})
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": err.Error()})
		}
	}
}

func sessionView(s *Session) gin.H {
	return gin.H{
		"id":      s.ID,
		"phase":   s.Phase(),
		"current": s.Current(),
		"draft":   s.Draft(),
		"preview": s.Preview(),
	}
}
