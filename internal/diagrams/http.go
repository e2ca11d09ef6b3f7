package diagrams

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/umlcraft/umlcraft-backend/internal/auth"
	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

type handler struct {
	repo *Repo
}

type createDiagramReq struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	SourceContent  string `json:"source_content"`
	SourceLanguage string `json:"source_language"`
	Note           string `json:"note"`
}

type createVersionReq struct {
	SourceContent  string `json:"source_content"`
	Note           string `json:"note"`
	SourceLanguage string `json:"source_language"`
	Author         string `json:"author"`
}

type attachDescriptionReq struct {
	Description string `json:"description"`
}

func (h *handler) createDiagram(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("public_id"))
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing project id"})
		return
	}

	uid := auth.UserUID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing user"})
		return
	}

	var req createDiagramReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	kind, err := domain.ParseKind(strings.TrimSpace(req.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	d, ver, err := h.repo.CreateDiagram(c.Request.Context(), projectID, strings.TrimSpace(req.Name), kind, domain.CreateVersionInput{
		SourceContent:  req.SourceContent,
		SourceLanguage: strings.TrimSpace(req.SourceLanguage),
		Note:           strings.TrimSpace(req.Note),
		Author:         uid,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
		case errors.Is(err, domain.ErrEmptyContent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "source content is empty"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "diagram": d, "version": ver})
}

func (h *handler) listDiagrams(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("public_id"))
	out, err := h.repo.ListDiagrams(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "diagrams": out})
}

func (h *handler) getDiagram(c *gin.Context) {
	d, err := h.repo.GetDiagram(c.Request.Context(), c.Param("diagram_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "diagram not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "diagram": d})
}

func (h *handler) nextVersion(c *gin.Context) {
	next, err := h.repo.NextVersionNumber(c.Request.Context(), c.Param("diagram_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "diagram not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "next_version": next})
}

func (h *handler) listVersions(c *gin.Context) {
	out, err := h.repo.ListVersions(c.Request.Context(), c.Param("diagram_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "versions": out})
}

func (h *handler) getVersion(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid version number"})
		return
	}

	ver, err := h.repo.GetVersion(c.Request.Context(), c.Param("diagram_id"), number)
	if err != nil {
		if errors.Is(err, domain.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": ver})
}

// createVersion decodes with DisallowUnknownFields: a body smuggling a
// pre-generated description must be rejected, descriptions only arrive
// through the attach endpoint.
func (h *handler) createVersion(c *gin.Context) {
	uid := auth.UserUID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing user"})
		return
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	var req createVersionReq
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = uid
	}

	ver, err := h.repo.CreateVersion(c.Request.Context(), c.Param("diagram_id"), domain.CreateVersionInput{
		SourceContent:  req.SourceContent,
		SourceLanguage: strings.TrimSpace(req.SourceLanguage),
		Note:           strings.TrimSpace(req.Note),
		Author:         author,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "diagram not found"})
		case errors.Is(err, domain.ErrEmptyContent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "source content is empty"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "version": ver})
}

func (h *handler) attachDescription(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid version number"})
		return
	}

	var req attachDescriptionReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ver, err := h.repo.AttachDescription(c.Request.Context(), c.Param("diagram_id"), number, req.Description)
	if err != nil {
		if errors.Is(err, domain.ErrVersionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "version not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": ver})
}
