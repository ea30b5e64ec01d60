package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/permission"
	"github.com/tessellate-ai/raggate/internal/session"
)

const (
	ctxSessionKey = "raggate_session"
	ctxViewKey    = "raggate_view"
	ctxTokenKey   = "raggate_token"
)

// sessionToken extracts the opaque session token from the request:
// Authorization bearer first, then the X-Session-Token header, then the
// token query parameter (websocket clients cannot set headers).
func sessionToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if tok := c.GetHeader("X-Session-Token"); tok != "" {
		return tok
	}
	return c.Query("token")
}

// requireSession resolves the token to a session and its permission view
// and stores both in the request context.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			s.abortError(c, gateerrors.Unauthenticated("missing session token", nil))
			return
		}

		sess, err := s.deps.Gate.Resolve(c.Request.Context(), token)
		if err != nil {
			s.abortError(c, err)
			return
		}
		view, err := permission.Resolve(sess)
		if err != nil {
			s.abortError(c, err)
			return
		}

		c.Set(ctxSessionKey, sess)
		c.Set(ctxViewKey, view)
		c.Set(ctxTokenKey, token)
		c.Next()
	}
}

// requireAdmin gates write endpoints on the admin or owner role.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		view := viewFrom(c)
		if view == nil || !view.IsAdmin() {
			s.abortError(c, gateerrors.New(gateerrors.ErrCodePermissionDenied,
				"admin role required", nil))
			return
		}
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *session.Session {
	if v, ok := c.Get(ctxSessionKey); ok {
		return v.(*session.Session)
	}
	return nil
}

func viewFrom(c *gin.Context) *permission.View {
	if v, ok := c.Get(ctxViewKey); ok {
		return v.(*permission.View)
	}
	return nil
}

func tokenFrom(c *gin.Context) string {
	return c.GetString(ctxTokenKey)
}

// renderError writes the public error shape. Internal detail stays in the
// log; the client sees the public kind, code, and message only.
func (s *Server) renderError(c *gin.Context, err error) {
	status := gateerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
	}
	c.JSON(status, errorBody(err))
}

func errorBody(err error) gin.H {
	return gin.H{
		"error":   string(gateerrors.PublicKind(err)),
		"code":    gateerrors.GetCode(err),
		"message": publicMessage(err),
	}
}

func (s *Server) abortError(c *gin.Context, err error) {
	s.renderError(c, err)
	c.Abort()
}

// publicMessage keeps internal failure detail out of responses.
func publicMessage(err error) string {
	switch gateerrors.PublicKind(err) {
	case gateerrors.KindInternal:
		return "internal error"
	default:
		if ge, ok := gateerrors.AsGateError(err); ok {
			return ge.Message
		}
		return "request failed"
	}
}
