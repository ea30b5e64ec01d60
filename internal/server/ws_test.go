package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(h *serverHarness, token string) string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/query"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, h *serverHarness, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames collects frames until one of the terminal types arrives.
func readFrames(t *testing.T, conn *websocket.Conn) []wsFrame {
	t.Helper()
	var frames []wsFrame
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		switch f.Type {
		case frameChunks, frameOverview, frameStreamEnd, frameError:
			return frames
		}
	}
}

func frameTypes(frames []wsFrame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

func TestWS_MissingTokenClosesPolicyViolation(t *testing.T) {
	// Given: a connection opened without a token
	h := newServerHarness(t)
	conn := dialWS(t, h, "")

	// When: the error frame arrives
	var f wsFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, frameError, f.Type)

	// Then: the server closes with 1008
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWS_BadTokenClosesPolicyViolation(t *testing.T) {
	h := newServerHarness(t)
	conn := dialWS(t, h, "not-a-session")

	var f wsFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, frameError, f.Type)

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWS_RawQuestionFrameOrder(t *testing.T) {
	// Given: an indexed document and an open session
	h := newServerHarness(t)
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md",
		"Deployment rollouts happen through a canary stage first.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)

	// When
	require.NoError(t, conn.WriteJSON(obj{"question": "canary rollouts", "humanize": false}))
	frames := readFrames(t, conn)

	// Then: status* → immediate → chunks
	types := frameTypes(frames)
	require.Equal(t, frameChunks, types[len(types)-1])
	assert.Contains(t, types, frameStatus)
	assert.Contains(t, types, frameImmediate)
	assert.Less(t,
		indexOfString(types, frameImmediate), indexOfString(types, frameChunks))

	last := frames[len(frames)-1]
	require.NotEmpty(t, last.Chunks)
	require.NotEmpty(t, last.Files)
	assert.Equal(t, "guide.md", last.Files[0].Filename)
}

func TestWS_StreamedQuestionFrameOrder(t *testing.T) {
	h := newServerHarness(t)
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md", "Canary rollout documentation body.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)

	require.NoError(t, conn.WriteJSON(obj{"question": "canary", "humanize": true, "stream": true}))
	frames := readFrames(t, conn)
	types := frameTypes(frames)

	require.Equal(t, frameStreamEnd, types[len(types)-1])
	assert.Less(t, indexOfString(types, frameImmediate), indexOfString(types, frameStreamStart))

	var answer strings.Builder
	for _, f := range frames {
		if f.Type == frameStreamToken {
			answer.WriteString(f.Token)
		}
	}
	assert.Equal(t, "streamed answer", answer.String())
}

func TestWS_BareQuestionDefaultsToStreamedAnswer(t *testing.T) {
	// Given: a frame carrying only the question
	h := newServerHarness(t)
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md", "Machine learning rollout notes.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)

	// When
	require.NoError(t, conn.WriteJSON(obj{"question": "machine learning"}))
	frames := readFrames(t, conn)
	types := frameTypes(frames)

	// Then: humanize and stream default on, so the answer streams
	require.Equal(t, frameStreamEnd, types[len(types)-1])
	assert.Contains(t, types, frameStreamStart)
	assert.NotContains(t, types, frameChunks)

	var answer strings.Builder
	for _, f := range frames {
		if f.Type == frameStreamToken {
			answer.WriteString(f.Token)
		}
	}
	assert.Equal(t, "streamed answer", answer.String())
}

func TestWS_LLMOutageSendsChunksThenCloses1011(t *testing.T) {
	// Given: an indexed document and no working LLM provider
	h := newServerHarnessWith(t, downGenerator{})
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md", "Canary rollout documentation body.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)
	require.NoError(t, conn.WriteJSON(obj{"question": "canary rollout"}))

	// When: reading until the error frame
	deadline := time.Now().Add(5 * time.Second)
	var frames []wsFrame
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == frameError {
			break
		}
	}

	// Then: the retrieved chunks precede the error, then the socket
	// closes with 1011
	types := frameTypes(frames)
	chunkIdx := indexOfString(types, frameChunks)
	require.GreaterOrEqual(t, chunkIdx, 0, "frames: %v", types)
	assert.Less(t, chunkIdx, indexOfString(types, frameError))
	assert.NotEmpty(t, frames[chunkIdx].Chunks)

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestWS_SequentialQuestionsOnOneConnection(t *testing.T) {
	h := newServerHarness(t)
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md", "Reusable connection test content.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(obj{"question": "reusable connection", "humanize": false}))
		frames := readFrames(t, conn)
		assert.Equal(t, frameChunks, frames[len(frames)-1].Type, "question %d", i)
	}
}

func TestWS_EmptyQuestionKeepsSession(t *testing.T) {
	// Given
	h := newServerHarness(t)
	admin := h.login(t, "admin")
	_, status := h.upload(t, admin, "guide.md", "Still alive after a bad frame.")
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, h, admin)

	// When: a malformed frame draws an error without closing
	require.NoError(t, conn.WriteJSON(obj{"humanize": true}))
	frames := readFrames(t, conn)
	require.Equal(t, frameError, frames[len(frames)-1].Type)

	// Then: the next question still works
	require.NoError(t, conn.WriteJSON(obj{"question": "alive", "humanize": false}))
	frames = readFrames(t, conn)
	assert.Equal(t, frameChunks, frames[len(frames)-1].Type)
}

func indexOfString(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
