package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/orchestrator"
	"github.com/tessellate-ai/raggate/internal/search"
)

// Frame types of the websocket protocol. Per question the client sees
// status* → immediate → exactly one of (stream_start stream_token*
// stream_end) | overview | chunks, or an error frame.
const (
	frameStatus      = "status"
	frameImmediate   = "immediate"
	frameStreamStart = "stream_start"
	frameStreamToken = "stream_token"
	frameStreamEnd   = "stream_end"
	frameOverview    = "overview"
	frameChunks      = "chunks"
	frameError       = "error"
)

const wsWriteTimeout = 10 * time.Second

type wsFrame struct {
	Type     string                  `json:"type"`
	Message  string                  `json:"message,omitempty"`
	Token    string                  `json:"token,omitempty"`
	Answer   string                  `json:"answer,omitempty"`
	Files    []orchestrator.Citation `json:"files,omitempty"`
	Excerpts []string                `json:"excerpts,omitempty"`
	Chunks   []*search.Result        `json:"chunks,omitempty"`
	Kind     string                  `json:"kind,omitempty"`
	Code     string                  `json:"code,omitempty"`
}

// wsQuestion is one client frame. Humanize and stream default to true
// when absent; a bare {question} gets a streamed answer.
type wsQuestion struct {
	Question string `json:"question"`
	Humanize bool   `json:"humanize"`
	Stream   bool   `json:"stream"`
	K        int    `json:"k,omitempty"`

	// SessionID optionally re-authenticates a single question.
	SessionID string `json:"session_id,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer for REST; websocket
	// clients include CLI tools without an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWSQuery upgrades the connection and serves questions one at a
// time until the client disconnects or the idle timeout expires.
// Authentication happens after the upgrade so failures can close with a
// policy code instead of a bare HTTP status.
func (s *Server) handleWSQuery(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	token := sessionToken(c)
	if token == "" {
		s.wsReject(conn, websocket.ClosePolicyViolation,
			gateerrors.Unauthenticated("missing session token", nil))
		return
	}
	sess, err := s.deps.Gate.Resolve(c.Request.Context(), token)
	if err != nil {
		s.wsReject(conn, websocket.ClosePolicyViolation, err)
		return
	}
	if sess.OrganizationID == "" {
		s.wsReject(conn, websocket.ClosePolicyViolation,
			gateerrors.OrganizationRequired("organization context required"))
		return
	}

	idle := s.deps.Config.WSSessionTimeoutDuration()
	em := &wsEmitter{conn: conn}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		q := wsQuestion{Humanize: true, Stream: true}
		if err := json.Unmarshal(payload, &q); err != nil || q.Question == "" {
			em.writeError(gateerrors.InvalidInput("malformed question frame", err))
			continue
		}
		questionToken := token
		if q.SessionID != "" {
			questionToken = q.SessionID
		}

		qctx, cancel := s.queryContext(c)
		err = s.deps.Orchestrator.Execute(qctx, questionToken, orchestrator.Request{
			Question: q.Question,
			Humanize: q.Humanize,
			Stream:   q.Stream,
			K:        q.K,
		}, em)
		cancel()
		if err != nil {
			em.writeError(err)
			if closeCode, fatal := wsCloseFor(err); fatal {
				s.wsClose(conn, closeCode, err)
				return
			}
		}
	}
}

func (s *Server) queryContext(c *gin.Context) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.deps.Config.QueryTimeoutDuration())
}

// wsCloseFor decides whether an error ends the session and with which
// close code. Auth failures are policy violations; internal failures and
// downstream outages close 1011. Per-question errors like empty input
// keep the session.
func wsCloseFor(err error) (code int, fatal bool) {
	switch gateerrors.PublicKind(err) {
	case gateerrors.KindUnauthenticated, gateerrors.KindOrganizationRequired:
		return websocket.ClosePolicyViolation, true
	case gateerrors.KindInternal,
		gateerrors.KindLLMUnavailable,
		gateerrors.KindEmbeddingUnavailable,
		gateerrors.KindIndexUnavailable:
		return websocket.CloseInternalServerErr, true
	default:
		return 0, false
	}
}

func (s *Server) wsReject(conn *websocket.Conn, code int, err error) {
	em := &wsEmitter{conn: conn}
	em.writeError(err)
	s.wsClose(conn, code, err)
}

func (s *Server) wsClose(conn *websocket.Conn, code int, err error) {
	msg := websocket.FormatCloseMessage(code, publicMessage(err))
	if werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)); werr != nil {
		s.logger.Debug("websocket close failed", slog.String("error", werr.Error()))
	}
}

// wsEmitter writes orchestrator frames to one connection. gorilla allows
// a single concurrent writer, so all writes serialize on the mutex.
type wsEmitter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (e *wsEmitter) write(f wsFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return e.conn.WriteJSON(f)
}

func (e *wsEmitter) writeError(err error) {
	_ = e.write(wsFrame{
		Type:    frameError,
		Message: publicMessage(err),
		Kind:    string(gateerrors.PublicKind(err)),
		Code:    gateerrors.GetCode(err),
	})
}

func (e *wsEmitter) Status(message string) error {
	return e.write(wsFrame{Type: frameStatus, Message: message})
}

func (e *wsEmitter) Immediate(citations []orchestrator.Citation, excerpts []string) error {
	return e.write(wsFrame{Type: frameImmediate, Files: citations, Excerpts: excerpts})
}

func (e *wsEmitter) StreamStart() error {
	return e.write(wsFrame{Type: frameStreamStart})
}

func (e *wsEmitter) StreamToken(token string) error {
	return e.write(wsFrame{Type: frameStreamToken, Token: token})
}

func (e *wsEmitter) StreamEnd() error {
	return e.write(wsFrame{Type: frameStreamEnd})
}

func (e *wsEmitter) Overview(answer string, citations []orchestrator.Citation) error {
	return e.write(wsFrame{Type: frameOverview, Answer: answer, Files: citations})
}

func (e *wsEmitter) Chunks(results []*search.Result, citations []orchestrator.Citation) error {
	return e.write(wsFrame{Type: frameChunks, Chunks: results, Files: citations})
}
