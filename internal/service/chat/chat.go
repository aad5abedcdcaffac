// Package chat 编排一次对话：解析 Agent、桥接流式输出、落库存档
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ashwinyue/oneline-chat/internal/model"
	"github.com/ashwinyue/oneline-chat/internal/service/bridge"
	"github.com/ashwinyue/oneline-chat/internal/service/registry"
)

// 默认带入上下文的历史轮数
const defaultHistoryTurns = 10

// TurnStore 对话存档的数据访问接口
type TurnStore interface {
	CreateTurn(turn *model.ChatTurn) error
	GetTurnsByChatID(chatID string) ([]*model.ChatTurn, error)
	GetRecentTurns(chatID string, limit int) ([]*model.ChatTurn, error)
	ListChatIDs(userID string, offset, limit int) ([]string, error)
	DeleteChat(chatID string) error
	CreateShare(share *model.SharedChat) error
	GetShareByChatID(chatID string) (*model.SharedChat, error)
	GetShareByToken(token string) (*model.SharedChat, error)
}

// AgentResolver 把请求解析到具体 Agent
type AgentResolver interface {
	Resolve(ctx context.Context, chatID, agentID string) (*registry.AgentRecord, error)
}

// StreamBridge 对接两类 Agent 的流式与同步调用
type StreamBridge interface {
	StreamLocal(ctx context.Context, rec *registry.AgentRecord, messages []*schema.Message, params bridge.Params) *bridge.Stream
	StreamRemote(ctx context.Context, rec *registry.AgentRecord, query string, history []bridge.Turn, params bridge.Params) *bridge.Stream
	GenerateLocal(ctx context.Context, rec *registry.AgentRecord, messages []*schema.Message, params bridge.Params) (string, error)
	InvokeRemote(ctx context.Context, rec *registry.AgentRecord, query string, history []bridge.Turn, params bridge.Params) (string, error)
}

// StatusObserver 接收每次请求结束后的 Agent 状态回写
type StatusObserver interface {
	ObserveCallSuccess(id string, latency time.Duration)
	ObserveCallFailure(id string)
}

// Service 聊天服务
type Service struct {
	turns    TurnStore
	resolver AgentResolver
	bridge   StreamBridge
	status   StatusObserver // 可为 nil
}

// NewService 创建聊天服务
func NewService(turns TurnStore, resolver AgentResolver, b StreamBridge, status StatusObserver) *Service {
	return &Service{turns: turns, resolver: resolver, bridge: b, status: status}
}

// Message 对话消息
type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CompletionRequest 聊天补全请求，兼容 OpenAI 格式并带扩展字段
type CompletionRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages" binding:"required,min=1"`
	Stream           bool      `json:"stream"`
	Temperature      *float64  `json:"temperature"`
	MaxTokens        *int      `json:"max_tokens"`
	TopP             *float64  `json:"top_p"`
	Stop             []string  `json:"stop"`
	PresencePenalty  *float64  `json:"presence_penalty"`
	FrequencyPenalty *float64  `json:"frequency_penalty"`

	// 扩展字段
	ChatID   string `json:"chat_id"`
	AgentID  string `json:"agent_id"`
	SaveToDB *bool  `json:"save_to_db"`

	// 由认证中间件填充
	UserID string `json:"-"`
}

// params 提取透传给桥接层的生成参数
func (r *CompletionRequest) params() bridge.Params {
	return bridge.Params{
		Temperature:      r.Temperature,
		MaxTokens:        r.MaxTokens,
		TopP:             r.TopP,
		Stop:             r.Stop,
		PresencePenalty:  r.PresencePenalty,
		FrequencyPenalty: r.FrequencyPenalty,
	}
}

// shouldSave 是否需要落库：默认落库，显式 false 或缺少 chat_id 时跳过
func (r *CompletionRequest) shouldSave() bool {
	if r.ChatID == "" {
		return false
	}
	return r.SaveToDB == nil || *r.SaveToDB
}

// lastUserQuery 取最后一条用户消息作为本轮问题
func (r *CompletionRequest) lastUserQuery() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// CompletionChoice 非流式响应的选择分支
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// CompletionUsage token 用量
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse 非流式聊天补全响应
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
	AgentID string             `json:"agent_id,omitempty"`
}

// StreamResult 一次流式补全
type StreamResult struct {
	Agent  *registry.AgentView
	Events <-chan bridge.Event
}

// buildMessages 把请求消息转成模型消息，必要时前置 Agent 的系统提示词
func buildMessages(rec *registry.AgentRecord, msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs)+1)
	if rec.SystemPrompt != "" {
		out = append(out, schema.SystemMessage(rec.SystemPrompt))
	}
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "assistant":
			out = append(out, &schema.Message{Role: schema.Assistant, Content: m.Content})
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// buildHistory 把请求中最后一条用户消息之前的内容转成远程 Agent 的历史
func buildHistory(msgs []Message) []bridge.Turn {
	if len(msgs) == 0 {
		return nil
	}
	history := make([]bridge.Turn, 0, len(msgs)-1)
	for _, m := range msgs[:len(msgs)-1] {
		history = append(history, bridge.Turn{Role: m.Role, Content: m.Content})
	}
	return history
}

// agentMeta 写入存档的 Agent 元数据
func agentMeta(rec *registry.AgentRecord) model.JSON {
	return model.JSON{
		"agent_id":   rec.ID,
		"agent_name": rec.Name,
		"agent_type": string(rec.Type),
		"model":      rec.Model,
	}
}

// StreamCompletion 流式补全
//
// Agent 解析失败同步返回错误。流启动后的失败以流内错误块下发；
// 落库仅在流成功完成且客户端未断开时进行，落库失败在 done 之前
// 追加 database_error 错误块，已生成的内容不受影响
func (s *Service) StreamCompletion(ctx context.Context, req *CompletionRequest) (*StreamResult, error) {
	rec, err := s.resolver.Resolve(ctx, req.ChatID, req.AgentID)
	if err != nil {
		return nil, err
	}

	params := req.params()
	started := time.Now()

	var upstream *bridge.Stream
	if rec.Type == registry.TypeSystem {
		upstream = s.bridge.StreamLocal(ctx, rec, buildMessages(rec, req.Messages), params)
	} else {
		upstream = s.bridge.StreamRemote(ctx, rec, req.lastUserQuery(), buildHistory(req.Messages), params)
	}

	out := make(chan bridge.Event, 16)
	go func() {
		defer close(out)
		for ev := range upstream.Events() {
			if ev.Kind == bridge.EventDone {
				s.observeOutcome(rec.ID, !upstream.Failed(), started)
				// 先存档，再下发终止标记
				if err := s.persistTurn(ctx, req, rec, upstream); err != nil {
					out <- bridge.Event{
						Kind: bridge.EventError,
						Data: bridge.MarshalError(bridge.ErrKindDatabase, fmt.Sprintf("failed to save chat record: %v", err)),
					}
				}
			}
			out <- ev
		}
	}()

	return &StreamResult{Agent: rec.View(), Events: out}, nil
}

// persistTurn 流结束后的落库，不满足条件时静默跳过
func (s *Service) persistTurn(ctx context.Context, req *CompletionRequest, rec *registry.AgentRecord, upstream *bridge.Stream) error {
	if !req.shouldSave() {
		return nil
	}
	if upstream.Failed() {
		log.Printf("Skipping persistence for chat %s: stream failed", req.ChatID)
		return nil
	}
	if ctx.Err() != nil {
		log.Printf("Skipping persistence for chat %s: client disconnected", req.ChatID)
		return nil
	}

	turn := &model.ChatTurn{
		ChatID:    req.ChatID,
		MessageID: upstream.ID,
		Question:  req.lastUserQuery(),
		Response:  upstream.FullText(),
		Mode:      model.ChatModeSingle,
		Agents:    agentMeta(rec),
		UserID:    req.UserID,
	}
	return s.turns.CreateTurn(turn)
}

// observeOutcome 请求结束后的 Agent 状态回写
func (s *Service) observeOutcome(agentID string, ok bool, started time.Time) {
	if s.status == nil {
		return
	}
	if ok {
		s.status.ObserveCallSuccess(agentID, time.Since(started))
	} else {
		s.status.ObserveCallFailure(agentID)
	}
}

// Completion 非流式补全
func (s *Service) Completion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	rec, err := s.resolver.Resolve(ctx, req.ChatID, req.AgentID)
	if err != nil {
		return nil, err
	}

	params := req.params()
	started := time.Now()

	var content string
	if rec.Type == registry.TypeSystem {
		content, err = s.bridge.GenerateLocal(ctx, rec, buildMessages(rec, req.Messages), params)
	} else {
		content, err = s.bridge.InvokeRemote(ctx, rec, req.lastUserQuery(), buildHistory(req.Messages), params)
	}
	s.observeOutcome(rec.ID, err == nil, started)
	if err != nil {
		return nil, err
	}

	completionID := bridge.NewCompletionID()

	if req.shouldSave() {
		turn := &model.ChatTurn{
			ChatID:    req.ChatID,
			MessageID: completionID,
			Question:  req.lastUserQuery(),
			Response:  content,
			Mode:      model.ChatModeSingle,
			Agents:    agentMeta(rec),
			UserID:    req.UserID,
		}
		if err := s.turns.CreateTurn(turn); err != nil {
			// 回复已经生成，存档失败不吞掉结果
			log.Printf("Failed to save chat record for %s: %v", req.ChatID, err)
		}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = rec.Model
	}
	return &CompletionResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []CompletionChoice{
			{Index: 0, Message: Message{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		AgentID: rec.ID,
	}, nil
}

// HistoryMessages 把会话存档展开成 user/assistant 消息序列
func (s *Service) HistoryMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryTurns
	}
	turns, err := s.turns.GetRecentTurns(chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	messages := make([]Message, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages,
			Message{Role: "user", Content: t.Question},
			Message{Role: "assistant", Content: t.Response},
		)
	}
	return messages, nil
}

// GetHistory 获取会话的全部存档
// userID 非空时只返回该用户的记录，历史数据中无归属的记录一并返回
func (s *Service) GetHistory(ctx context.Context, chatID, userID string) ([]*model.ChatTurn, error) {
	turns, err := s.turns.GetTurnsByChatID(chatID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return turns, nil
	}

	filtered := make([]*model.ChatTurn, 0, len(turns))
	for _, t := range turns {
		if t.UserID == "" || t.UserID == userID {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// ListChats 列出用户的会话 ID
func (s *Service) ListChats(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.turns.ListChatIDs(userID, offset, limit)
}

// DeleteChat 删除会话
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.turns.DeleteChat(chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// ShareChat 为会话生成分享 token，重复分享复用已有记录
func (s *Service) ShareChat(ctx context.Context, chatID, ownerID string, expiresIn time.Duration) (*model.SharedChat, error) {
	if existing, err := s.turns.GetShareByChatID(chatID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing share: %w", err)
	}

	share := &model.SharedChat{
		ShareToken: uuid.New().String(),
		ChatID:     chatID,
		OwnerID:    ownerID,
	}
	if expiresIn > 0 {
		at := time.Now().Add(expiresIn)
		share.ExpiresAt = &at
	}
	if err := s.turns.CreateShare(share); err != nil {
		return nil, fmt.Errorf("failed to create share: %w", err)
	}
	return share, nil
}

// GetSharedChat 按分享 token 获取会话存档
func (s *Service) GetSharedChat(ctx context.Context, token string) (*model.SharedChat, []*model.ChatTurn, error) {
	share, err := s.turns.GetShareByToken(token)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.turns.GetTurnsByChatID(share.ChatID)
	if err != nil {
		return nil, nil, err
	}
	return share, turns, nil
}
