package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"draftCollab/backend/internal/llm"
)

var suggestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "draft_collab",
	Name:      "inline_suggest_requests_total",
	Help:      "Inline suggestion requests by result.",
}, []string{"result"})

type SuggestHandler struct {
	completer llm.Completer
}

func NewSuggestHandler(completer llm.Completer) *SuggestHandler {
	return &SuggestHandler{completer: completer}
}

// InlineSuggest POST /collab/ai/inline-suggest，按片段流式返回 text/plain
func (h *SuggestHandler) InlineSuggest(c *gin.Context) {
	var req llm.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		suggestRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	if strings.TrimSpace(req.ContextBefore) == "" {
		suggestRequests.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "context_before is required"})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Trailer", llm.StreamStatusTrailer)
	c.Status(http.StatusOK)

	// 客户端断开时 Request.Context 会被取消，上游流随之中止
	ctx := c.Request.Context()
	wrote := false
	err := h.completer.Stream(ctx, req, func(fragment string) error {
		if _, err := c.Writer.WriteString(fragment); err != nil {
			return err
		}
		c.Writer.Flush()
		wrote = true
		return nil
	})
	status := llm.StreamOK
	switch {
	case err == nil:
		suggestRequests.WithLabelValues("ok").Inc()
	case ctx.Err() != nil:
		// 包括 llmTimeout 到期，客户端看到的是不完整的流
		status = "cancelled"
		suggestRequests.WithLabelValues("cancelled").Inc()
	default:
		status = "error"
		suggestRequests.WithLabelValues("error").Inc()
		log.Printf("inline suggest failed user=%d: %v", c.GetUint64("userId"), err)
		if !wrote {
			// 还没写出任何片段时可以改成错误响应
			c.Writer.WriteHeader(http.StatusBadGateway)
		}
	}
	// 已经写出的片段收不回来，靠 trailer 告诉客户端整段作废
	c.Writer.Header().Set(llm.StreamStatusTrailer, status)
}
