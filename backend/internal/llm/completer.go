package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sashabaranov/go-openai"
)

// Completer：文本补全服务，片段按到达顺序回调；ctx 取消即中止
type Completer interface {
	Stream(ctx context.Context, req Request, onFragment func(string) error) error
}

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAICompleter：OpenAI 兼容接口（Ollama 的 /v1 也走这里）
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAICompleter(opt Options) *OpenAICompleter {
	cfg := openai.DefaultConfig(opt.APIKey)
	if opt.BaseURL != "" {
		cfg.BaseURL = opt.BaseURL
	}
	if opt.MaxTokens <= 0 {
		opt.MaxTokens = 150
	}
	log.Printf("init completion client base=%s model=%s", cfg.BaseURL, opt.Model)
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       opt.Model,
		temperature: opt.Temperature,
		maxTokens:   opt.MaxTokens,
	}
}

func (o *OpenAICompleter) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    BuildMessages(req),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("recv completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if frag := resp.Choices[0].Delta.Content; frag != "" {
			if err := onFragment(frag); err != nil {
				return err
			}
		}
	}
}
