package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/overturn/internal/application/intake"
)

// DefaultMaxUploadSize caps multipart reads when Deps.MaxUploadSize is unset
const DefaultMaxUploadSize = intake.DefaultMaxUploadSize

// ExtractRequest is the JSON body of POST /api/intake/extract
type ExtractRequest struct {
	Text string `json:"text" binding:"required"`
}

// ToggleRequest is the body of POST /api/intake/toggle
type ToggleRequest struct {
	Letter string `json:"letter"`
	Phrase string `json:"phrase" binding:"required"`
}

// ToggleResponse returns the edited letter and whether the phrase is now in it
type ToggleResponse struct {
	Letter   string `json:"letter"`
	Selected bool   `json:"selected"`
}

// Upload handles POST /api/intake/upload (multipart field "file")
func (h *Handlers) Upload(c *gin.Context) {
	name, data, ok := h.readFile(c)
	if !ok {
		return
	}
	uploaded, err := h.deps.Intake.Upload(c.Request.Context(), name, data)
	if err != nil {
		h.respondError(c, "failed to upload document", err)
		return
	}
	respond(c, http.StatusCreated, uploaded)
}

// Extract handles POST /api/intake/extract. A multipart "file" is read as a
// PDF; a JSON body supplies already extracted text.
func (h *Handlers) Extract(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		_, data, ok := h.readFile(c)
		if !ok {
			return
		}
		review, err := h.deps.Intake.Extract(c.Request.Context(), data)
		if err != nil {
			h.respondError(c, "failed to extract document", err)
			return
		}
		respond(c, http.StatusOK, review)
		return
	}

	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, "text or file is required")
		return
	}
	review, err := h.deps.Intake.ExtractText(c.Request.Context(), req.Text)
	if err != nil {
		h.respondError(c, "failed to extract document", err)
		return
	}
	respond(c, http.StatusOK, review)
}

// Approve handles POST /api/intake/approve
func (h *Handlers) Approve(c *gin.Context) {
	var req intake.Approval
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.deps.Intake.Approve(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "failed to approve claim", err)
		return
	}
	respond(c, http.StatusCreated, ClaimResponse{Claim: created, Card: created.Display()})
}

// TogglePhrase handles POST /api/intake/toggle
func (h *Handlers) TogglePhrase(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	letter := intake.TogglePhrase(req.Letter, req.Phrase)
	respond(c, http.StatusOK, ToggleResponse{
		Letter:   letter,
		Selected: strings.Contains(letter, req.Phrase),
	})
}

// readFile reads the multipart "file" field, at most one byte past the
// upload limit so the intake service can reject oversize documents
func (h *Handlers) readFile(c *gin.Context) (string, []byte, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file is required")
		return "", nil, false
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable upload")
		return "", nil, false
	}
	defer f.Close()

	limit := h.deps.MaxUploadSize
	if limit <= 0 {
		limit = DefaultMaxUploadSize
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable upload")
		return "", nil, false
	}
	return fh.Filename, data, true
}
