package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tessellate-ai/raggate/internal/orchestrator"
	"github.com/tessellate-ai/raggate/internal/search"
)

// collectEmitter buffers the orchestrator's frames into one REST
// response. Stream tokens, if any, concatenate into the answer.
type collectEmitter struct {
	citations []orchestrator.Citation
	excerpts  []string
	chunks    []*search.Result
	answer    strings.Builder
	generated bool
}

func newCollectEmitter() *collectEmitter {
	return &collectEmitter{}
}

func (e *collectEmitter) Status(string) error { return nil }

func (e *collectEmitter) Immediate(citations []orchestrator.Citation, excerpts []string) error {
	e.citations = citations
	e.excerpts = excerpts
	return nil
}

func (e *collectEmitter) StreamStart() error { return nil }

func (e *collectEmitter) StreamToken(token string) error {
	e.answer.WriteString(token)
	return nil
}

func (e *collectEmitter) StreamEnd() error {
	e.generated = true
	return nil
}

func (e *collectEmitter) Overview(answer string, citations []orchestrator.Citation) error {
	e.answer.WriteString(answer)
	e.citations = citations
	e.generated = true
	return nil
}

func (e *collectEmitter) Chunks(results []*search.Result, citations []orchestrator.Citation) error {
	e.chunks = results
	e.citations = citations
	return nil
}

// partial returns whatever retrieval context was collected before a
// failure, nil when the query failed before anything came back.
func (e *collectEmitter) partial() gin.H {
	if len(e.citations) == 0 && len(e.chunks) == 0 {
		return nil
	}
	chunks := e.chunks
	if chunks == nil {
		chunks = []*search.Result{}
	}
	return gin.H{
		"chunks":    chunks,
		"citations": e.citations,
		"excerpts":  e.excerpts,
	}
}

func (e *collectEmitter) response() gin.H {
	resp := gin.H{
		"citations": e.citations,
		"excerpts":  e.excerpts,
	}
	if e.generated {
		resp["answer"] = e.answer.String()
	} else {
		if e.chunks == nil {
			e.chunks = []*search.Result{}
		}
		resp["chunks"] = e.chunks
	}
	return resp
}
