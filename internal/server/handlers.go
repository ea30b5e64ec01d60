package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/orchestrator"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/telemetry"
)

const fullReindexTimeout = 30 * time.Minute

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin authenticates either with username/password credentials or
// with an SSO bearer token in the Authorization header.
func (s *Server) handleLogin(c *gin.Context) {
	ctx := c.Request.Context()

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Username != "" {
		sess, err := s.deps.Gate.Authenticate(ctx, req.Username, req.Password)
		if err != nil {
			s.renderError(c, err)
			return
		}
		s.loginResponse(c, sess)
		return
	}

	auth := c.GetHeader("Authorization")
	if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
		sess, err := s.deps.Gate.AuthenticateBearer(ctx, strings.TrimSpace(bearer))
		if err != nil {
			s.renderError(c, err)
			return
		}
		s.loginResponse(c, sess)
		return
	}

	s.renderError(c, gateerrors.InvalidInput("credentials or bearer token required", nil))
}

func (s *Server) loginResponse(c *gin.Context, sess *session.Session) {
	c.JSON(http.StatusOK, gin.H{
		"session_id":      sess.Token,
		"user_id":         sess.UserID,
		"username":        sess.Username,
		"role":            sess.Role,
		"organization_id": sess.OrganizationID,
		"expires_at":      sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.deps.Gate.Logout(c.Request.Context(), tokenFrom(c)); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// handleUpload ingests one multipart file into the caller's organization.
func (s *Server) handleUpload(c *gin.Context) {
	view := viewFrom(c)

	file, err := c.FormFile("file")
	if err != nil {
		s.renderError(c, gateerrors.InvalidInput("multipart field 'file' required", err))
		return
	}

	maxBytes := int64(s.deps.Config.Ingest.MaxUploadSizeMB) << 20
	if maxBytes > 0 && file.Size > maxBytes {
		s.renderError(c, gateerrors.New(gateerrors.ErrCodePayloadTooLarge,
			fmt.Sprintf("file exceeds %d MB limit", s.deps.Config.Ingest.MaxUploadSizeMB), nil))
		return
	}
	if !s.extensionAllowed(file.Filename) {
		s.renderError(c, gateerrors.New(gateerrors.ErrCodeUnsupportedFormat,
			"file extension not allowed", nil))
		return
	}

	src, err := file.Open()
	if err != nil {
		s.renderError(c, gateerrors.InvalidInput("unreadable upload", err))
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		s.renderError(c, gateerrors.Internal("read upload", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.IngestTimeoutDuration())
	defer cancel()

	docID, err := s.deps.Pipeline.Ingest(ctx, filepath.Base(file.Filename), content, view.OrganizationID)
	s.observeIngest(err == nil)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"doc_id":   docID,
		"filename": filepath.Base(file.Filename),
	})
}

func (s *Server) extensionAllowed(filename string) bool {
	allowed := s.deps.Config.Ingest.AllowedExtensions
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func (s *Server) observeIngest(success bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveIngest(success)
	}
}

// handleFilesList returns the metadata of every document the caller may
// see, newest first.
func (s *Server) handleFilesList(c *gin.Context) {
	view := viewFrom(c)

	docs, err := s.deps.Docs.List(c.Request.Context(), view.OrganizationID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	visible := docs[:0]
	for _, d := range docs {
		if view.CanSee(d.Filename) {
			visible = append(visible, d)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"files": visible,
		"count": len(visible),
	})
}

// handleFileContent serves the stored raw bytes of one file. Files outside
// the caller's allow-list answer 404, never 403.
func (s *Server) handleFileContent(c *gin.Context) {
	view := viewFrom(c)
	filename := c.Param("filename")

	if !view.CanSee(filename) {
		s.renderError(c, gateerrors.NotFound("file not found", nil))
		return
	}
	doc, err := s.deps.Docs.GetByFilename(c.Request.Context(), filename, view.OrganizationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+doc.Filename+"\"")
	c.Data(http.StatusOK, "application/octet-stream", doc.Content)
}

type deleteRequest struct {
	FileID string `json:"file_id"`
}

// handleDeleteByFileID removes the document and all derived index entries.
// Deleting an absent or foreign doc ID reports zero deletions.
func (s *Server) handleDeleteByFileID(c *gin.Context) {
	view := viewFrom(c)

	var req deleteRequest
	_ = c.ShouldBindJSON(&req)
	if req.FileID == "" {
		req.FileID = c.Query("file_id")
	}
	if req.FileID == "" {
		s.renderError(c, gateerrors.InvalidInput("file_id required", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.IngestTimeoutDuration())
	defer cancel()

	existed := true
	if _, err := s.deps.Docs.Get(ctx, req.FileID, view.OrganizationID); err != nil {
		if !gateerrors.IsNotFound(err) {
			s.renderError(c, err)
			return
		}
		existed = false
	}
	if err := s.deps.Pipeline.Delete(ctx, req.FileID, view.OrganizationID); err != nil {
		s.renderError(c, err)
		return
	}

	deleted := 0
	if existed {
		deleted = 1
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
}

type queryRequest struct {
	Question string `json:"question"`
	Humanize bool   `json:"humanize"`
	Stream   bool   `json:"stream"`
	K        int    `json:"k"`
}

// handleQuery runs one synchronous query. The stream flag is honored but
// tokens concatenate into one answer; REST always responds with a single
// JSON document. A failure after retrieval keeps the retrieved context in
// the response under "partial".
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, gateerrors.InvalidInput("malformed query request", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.QueryTimeoutDuration())
	defer cancel()

	em := newCollectEmitter()
	err := s.deps.Orchestrator.Execute(ctx, tokenFrom(c), orchestrator.Request{
		Question: req.Question,
		Humanize: req.Humanize,
		Stream:   req.Stream,
		K:        req.K,
	}, em)
	if err != nil {
		if partial := em.partial(); partial != nil {
			body := errorBody(err)
			body["partial"] = partial
			c.JSON(http.StatusOK, body)
			return
		}
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, em.response())
}

// handleSuggest completes a query prefix from the caller's lexical index.
func (s *Server) handleSuggest(c *gin.Context) {
	view := viewFrom(c)
	prefix := c.Query("q")
	if strings.TrimSpace(prefix) == "" {
		s.renderError(c, gateerrors.InvalidInput("query parameter 'q' required", nil))
		return
	}
	limit := intQuery(c, "limit", 10)

	suggestions, err := s.deps.Lexical.Suggest(c.Request.Context(), prefix, view.OrganizationID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// handleFacets returns term counts over the caller's visible chunks.
func (s *Server) handleFacets(c *gin.Context) {
	view := viewFrom(c)
	fields := strings.Split(c.DefaultQuery("fields", "file_type,filename"), ",")

	facets, err := s.deps.Lexical.Facets(c.Request.Context(), view.Where(), fields)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facets": facets})
}

// handleReindexFull rebuilds every index entry for the caller's
// organization from the stored documents.
func (s *Server) handleReindexFull(c *gin.Context) {
	view := viewFrom(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), fullReindexTimeout)
	defer cancel()

	count, err := s.deps.Pipeline.ReindexOrganization(ctx, view.OrganizationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reindexed_count": count})
}

func (s *Server) handleReindexFile(c *gin.Context) {
	view := viewFrom(c)
	filename := c.Param("filename")

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.IngestTimeoutDuration())
	defer cancel()

	docID, err := s.deps.Pipeline.ReindexFile(ctx, filename, view.OrganizationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": docID, "filename": filename})
}

// handleReindexRefresh drains in-flight writes and persists the vector
// index snapshot.
func (s *Server) handleReindexRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.IngestTimeoutDuration())
	defer cancel()

	if err := s.deps.Pipeline.Refresh(ctx); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// handleAnalyticsRecent returns recent query events for the caller's
// organization, preferring the persistent sink when configured.
func (s *Server) handleAnalyticsRecent(c *gin.Context) {
	view := viewFrom(c)
	limit := intQuery(c, "limit", 50)

	var (
		events []telemetry.QueryEvent
		err    error
	)
	switch {
	case s.deps.Sink != nil:
		events, err = s.deps.Sink.Recent(c.Request.Context(), view.OrganizationID, limit)
	case s.deps.Ring != nil:
		events = s.deps.Ring.Recent(view.OrganizationID, limit)
	}
	if err != nil {
		s.renderError(c, err)
		return
	}
	if events == nil {
		events = []telemetry.QueryEvent{}
	}

	resp := gin.H{"events": events, "count": len(events)}
	if s.deps.Ring != nil {
		resp["stats"] = s.deps.Ring.Stats(view.OrganizationID)
	}
	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
