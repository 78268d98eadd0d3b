package llm

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	MaxContextBefore = 500
	MaxContextAfter  = 200
)

// 流式补全响应结束时的 trailer，只有值为 StreamOK 的流才算完整
const (
	StreamStatusTrailer = "X-Suggest-Status"
	StreamOK            = "ok"
)

const inlineSystemPrompt = "You are an inline autocomplete engine for academic research papers. " +
	"Complete the text from exactly where it ends. " +
	"Output ONLY the completion text, with no quotes, explanations or prefixes. " +
	"Keep it to 1-2 short sentences max. " +
	"Match the style, formatting (Markdown/LaTeX) and language of the existing text. " +
	"If the text ends mid-sentence, finish that sentence first."

// 光标前后的上下文 + 标题
type Request struct {
	ContextBefore string `json:"context_before"`
	ContextAfter  string `json:"context_after"`
	Title         string `json:"full_title"`
}

// 前文保留末尾，后文保留开头
func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func headRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func BuildPrompt(req Request) string {
	var sb strings.Builder
	if req.Title != "" {
		sb.WriteString("Paper title: ")
		sb.WriteString(req.Title)
		sb.WriteString("\n")
	}
	sb.WriteString("[Text before cursor]:\n")
	sb.WriteString(tailRunes(req.ContextBefore, MaxContextBefore))
	if strings.TrimSpace(req.ContextAfter) != "" {
		sb.WriteString("\n\n[Text after cursor]: ")
		sb.WriteString(headRunes(req.ContextAfter, MaxContextAfter))
	}
	sb.WriteString("\n\nContinue writing from exactly where the text before cursor ends:")
	return sb.String()
}

func BuildMessages(req Request) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: inlineSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
	}
}
