package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"voicelink/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// ErrEmptyResponse 模型没有返回任何内容
var ErrEmptyResponse = errors.New("empty chat completion")

// ChatClient 定义了聊天客户端的接口
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// ChatGPTConfig OpenAI 兼容接口的对话配置
type ChatGPTConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxMessages    int // 保留的历史消息条数
	Streaming      bool
	InitialMessage string // 对话开始时由助手说出
	PromptPreamble string // system 消息
}

// ChatGPT 基于 chat completions 的对话代理，保留有限长度的历史
type ChatGPT struct {
	name     string
	cfg      ChatGPTConfig
	client   ChatClient
	mu       sync.Mutex
	messages []openai.ChatCompletionMessageParamUnion
	started  bool
}

// NewChatGPT 创建一个新的对话代理
func NewChatGPT(cfg ChatGPTConfig) *ChatGPT {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return NewChatGPTWithClient(cfg, client.Chat.Completions)
}

// NewChatGPTWithClient 使用指定的客户端，便于替换实现
func NewChatGPTWithClient(cfg ChatGPTConfig, client ChatClient) *ChatGPT {
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.MaxMessages < 2 {
		cfg.MaxMessages = 10
	}
	return &ChatGPT{
		name:   "ChatGPT",
		cfg:    cfg,
		client: client,
	}
}

func (c *ChatGPT) Name() string {
	return c.name
}

func (c *ChatGPT) InitialMessage() string {
	return c.cfg.InitialMessage
}

// Start 清空历史。初始消息作为助手的第一句话放入历史。
func (c *ChatGPT) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = c.messages[:0]
	if c.cfg.InitialMessage != "" {
		c.messages = append(c.messages, openai.AssistantMessage(c.cfg.InitialMessage))
	}
	c.started = true
	logger.Info("Start component: %s (model=%s, streaming=%v)", c.name, c.cfg.Model, c.cfg.Streaming)
	return nil
}

// appendLocked 追加消息，超过最大条数时移除最早的消息
func (c *ChatGPT) appendLocked(msg openai.ChatCompletionMessageParamUnion) {
	for len(c.messages) >= c.cfg.MaxMessages {
		c.messages = c.messages[1:]
	}
	c.messages = append(c.messages, msg)
}

func (c *ChatGPT) params() openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.messages)+1)
	if c.cfg.PromptPreamble != "" {
		msgs = append(msgs, openai.SystemMessage(c.cfg.PromptPreamble))
	}
	msgs = append(msgs, c.messages...)

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(c.cfg.Model),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.F(c.cfg.Temperature)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.F(int64(c.cfg.MaxTokens))
	}
	return params
}

// Respond 把用户的一句话发给模型，返回助手的回复。
// ctx 取消时用户消息保留在历史中，回复不会记录。
func (c *ChatGPT) Respond(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return "", fmt.Errorf("%s: not started", c.name)
	}
	c.appendLocked(openai.UserMessage(text))
	params := c.params()
	c.mu.Unlock()

	logger.Info("**%s** Process text: %s", c.name, text)

	var (
		reply string
		err   error
	)
	if c.cfg.Streaming {
		reply, err = c.respondStreaming(ctx, params)
	} else {
		reply, err = c.respondNonStreaming(ctx, params)
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.appendLocked(openai.AssistantMessage(reply))
	c.mu.Unlock()

	logger.Info("**%s** Reply: %s", c.name, reply)
	return reply, nil
}

func (c *ChatGPT) respondNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// respondStreaming 使用累加器收集完整响应
func (c *ChatGPT) respondStreaming(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	stream := c.client.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("error in stream: %w", err)
	}

	reply := sb.String()
	if len(acc.Choices) > 0 && acc.Choices[0].Message.Content != "" {
		reply = acc.Choices[0].Message.Content
	}
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// HistoryLen 当前保留的历史消息条数
func (c *ChatGPT) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Stop 清理状态
func (c *ChatGPT) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.started = false
	logger.Info("Stopped component: %s", c.name)
	return nil
}
