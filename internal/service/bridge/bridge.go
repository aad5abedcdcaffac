// Package bridge 把两类 Agent 的输出统一成 OpenAI 风格的 SSE 事件流：
// 进程内模型走 eino 流式接口，远程 Agent 走其 /query HTTP 协议。
// 无论上游如何结束，事件流的最后一个事件一定是 done
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/oneline-chat/internal/service/registry"
)

// EventKind 事件类型
type EventKind string

const (
	EventChunk EventKind = "chunk" // 包装后的 chat.completion.chunk
	EventRaw   EventKind = "raw"   // 远程 Agent 自带 data: 前缀的行，透传不累积
	EventError EventKind = "error" // 流内错误块
	EventDone  EventKind = "done"  // 终止标记，Data 固定为 [DONE]
)

// Event 一条 SSE 事件，Data 是 data: 之后的载荷
type Event struct {
	Kind EventKind
	Data string
}

// Params 单次请求的生成参数覆盖，nil 字段表示沿用 Agent 配置
type Params struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	Stop             []string
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// Turn 发给远程 Agent 的历史消息
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream 一次流式调用的事件序列与结果
// 生产方在发出 done 事件后关闭通道，FullText 和 Failed 在通道关闭后才可靠
type Stream struct {
	ID      string
	Model   string
	Created int64 // 流创建时间，同一响应的所有块共享

	events chan Event

	mu     sync.Mutex
	buf    strings.Builder
	failed bool
}

func newStream(agentModel string) *Stream {
	return &Stream{
		ID:      NewCompletionID(),
		Model:   agentModel,
		Created: time.Now().Unix(),
		events:  make(chan Event, 16),
	}
}

// Events 事件通道
func (s *Stream) Events() <-chan Event { return s.events }

// FullText 累积的完整回复文本
func (s *Stream) FullText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Failed 流中是否出现过错误块
func (s *Stream) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// sendChunk 发出内容块并累积文本
func (s *Stream) sendChunk(content string) {
	s.mu.Lock()
	s.buf.WriteString(content)
	s.mu.Unlock()
	s.events <- Event{Kind: EventChunk, Data: marshalChunk(s.ID, s.Model, s.Created, content, nil)}
}

// sendRaw 透传远程 Agent 的 data 行，不计入累积文本
func (s *Stream) sendRaw(payload string) {
	s.events <- Event{Kind: EventRaw, Data: payload}
}

// fail 发出错误块并标记失败
func (s *Stream) fail(kind, message string) {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
	s.events <- Event{Kind: EventError, Data: MarshalError(kind, message)}
}

// finish 收尾：成功时补 finish_reason 块，随后发出 done 并关闭通道
func (s *Stream) finish() {
	if !s.Failed() {
		s.events <- Event{Kind: EventChunk, Data: marshalChunk(s.ID, s.Model, s.Created, "", &finishStop)}
	}
	s.events <- Event{Kind: EventDone, Data: "[DONE]"}
	close(s.events)
}

// Bridge 流式桥接器
type Bridge struct {
	client    *http.Client
	chatModel model.BaseChatModel
}

// New 创建桥接器，queryTimeout 约束对远程 Agent 的整次 HTTP 调用
func New(chatModel model.BaseChatModel, queryTimeout time.Duration) *Bridge {
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &Bridge{
		client:    &http.Client{Timeout: queryTimeout},
		chatModel: chatModel,
	}
}

// modelOptions 把 Agent 配置和请求覆盖合成 eino 调用选项
func modelOptions(rec *registry.AgentRecord, params Params) []model.Option {
	opts := []model.Option{model.WithModel(rec.Model)}

	temperature := rec.Temperature
	if params.Temperature != nil {
		temperature = *params.Temperature
	}
	opts = append(opts, model.WithTemperature(float32(temperature)))

	maxTokens := rec.MaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	if params.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*params.TopP)))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, model.WithStop(params.Stop))
	}
	return opts
}

// StreamLocal 通过共享模型客户端流式调用系统 Agent
func (b *Bridge) StreamLocal(ctx context.Context, rec *registry.AgentRecord, messages []*schema.Message, params Params) *Stream {
	s := newStream(rec.Model)

	go func() {
		defer s.finish()

		// 模型客户端初始化失败时系统 Agent 仍可能被路由到
		if b.chatModel == nil {
			s.fail(ErrKindInternal, "chat model client is not configured")
			return
		}

		reader, err := b.chatModel.Stream(ctx, messages, modelOptions(rec, params)...)
		if err != nil {
			s.fail(ErrKindAgentAPI, fmt.Sprintf("failed to start model stream: %v", err))
			return
		}
		defer reader.Close()

		for {
			msg, err := reader.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				s.fail(ErrKindChunkProcessing, fmt.Sprintf("failed to read model stream: %v", err))
				return
			}
			if msg.Content != "" {
				s.sendChunk(msg.Content)
			}
		}
	}()

	return s
}

// GenerateLocal 非流式调用系统 Agent，返回完整文本
func (b *Bridge) GenerateLocal(ctx context.Context, rec *registry.AgentRecord, messages []*schema.Message, params Params) (string, error) {
	if b.chatModel == nil {
		return "", fmt.Errorf("chat model client is not configured")
	}
	msg, err := b.chatModel.Generate(ctx, messages, modelOptions(rec, params)...)
	if err != nil {
		return "", fmt.Errorf("model generation failed: %w", err)
	}
	return msg.Content, nil
}

// queryRequest 远程 Agent /query 协议的请求体
// 采样参数仅在请求显式携带时透传
type queryRequest struct {
	Query            string   `json:"query"`
	History          []Turn   `json:"history,omitempty"`
	Stream           bool     `json:"stream"`
	Temperature      float64  `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

func (b *Bridge) newQueryRequest(ctx context.Context, rec *registry.AgentRecord, query string, history []Turn, params Params, streaming bool) (*http.Request, error) {
	body := queryRequest{
		Query:   query,
		History: history,
		Stream:  streaming,
	}
	body.Temperature = rec.Temperature
	if params.Temperature != nil {
		body.Temperature = *params.Temperature
	}
	body.MaxTokens = rec.MaxTokens
	if params.MaxTokens != nil {
		body.MaxTokens = *params.MaxTokens
	}
	body.TopP = params.TopP
	body.Stop = params.Stop
	body.PresencePenalty = params.PresencePenalty
	body.FrequencyPenalty = params.FrequencyPenalty

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(rec.BaseURL, "/")+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// StreamRemote 流式调用远程 Agent
//
// 逐行读取响应：带 data: 前缀的行透传，其余非空行包装成内容块并累积。
// 上游中途断开会先发出错误块再正常收尾
func (b *Bridge) StreamRemote(ctx context.Context, rec *registry.AgentRecord, query string, history []Turn, params Params) *Stream {
	s := newStream(rec.Model)

	go func() {
		defer s.finish()

		req, err := b.newQueryRequest(ctx, rec, query, history, params, true)
		if err != nil {
			s.fail(ErrKindInternal, err.Error())
			return
		}

		resp, err := b.client.Do(req)
		if err != nil {
			s.fail(ErrKindAgentAPI, fmt.Sprintf("agent %s request failed: %v", rec.ID, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			s.fail(ErrKindAgentAPI, fmt.Sprintf("agent %s returned status %d", rec.ID, resp.StatusCode))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			if after, ok := strings.CutPrefix(line, "data:"); ok {
				s.sendRaw(strings.TrimPrefix(after, " "))
				continue
			}
			s.sendChunk(line)
		}
		if err := scanner.Err(); err != nil {
			s.fail(ErrKindAgentAPI, fmt.Sprintf("agent %s stream interrupted: %v", rec.ID, err))
		}
	}()

	return s
}

// InvokeRemote 非流式调用远程 Agent
// 依次从响应体取 response、content 字段，都没有时回退为原始响应文本
func (b *Bridge) InvokeRemote(ctx context.Context, rec *registry.AgentRecord, query string, history []Turn, params Params) (string, error) {
	req, err := b.newQueryRequest(ctx, rec, query, history, params, false)
	if err != nil {
		return "", err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent %s request failed: %w", rec.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read agent %s response: %w", rec.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent %s returned status %d: %s", rec.ID, resp.StatusCode, string(raw))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if v, ok := parsed["response"].(string); ok {
			return v, nil
		}
		if v, ok := parsed["content"].(string); ok {
			return v, nil
		}
	}
	return string(raw), nil
}
