package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/oneline-chat/internal/config"
	"github.com/ashwinyue/oneline-chat/internal/repository"
	"github.com/ashwinyue/oneline-chat/internal/service/agent"
	"github.com/ashwinyue/oneline-chat/internal/service/auth"
	"github.com/ashwinyue/oneline-chat/internal/service/bridge"
	"github.com/ashwinyue/oneline-chat/internal/service/chat"
	"github.com/ashwinyue/oneline-chat/internal/service/registry"
	"github.com/ashwinyue/oneline-chat/internal/service/routing"
	"github.com/ashwinyue/oneline-chat/internal/service/session"
)

// Services 服务集合
type Services struct {
	Chat  *chat.Service
	Agent *agent.Service
	Auth  *auth.Service

	Config     *config.Config
	Registry   *registry.Registry
	Router     *routing.Router
	SessionMgr *session.Manager

	// 共享模型客户端，系统 Agent 统一经由它调用
	ChatModel model.BaseChatModel
}

// NewServices 创建所有服务
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	ctx := context.Background()

	// 共享模型客户端
	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		log.Printf("Warning: failed to create chat model: %v", err)
	}

	// Agent 注册中心
	probe := registry.NewHTTPProbe(time.Duration(cfg.Agents.ProbeTimeout) * time.Second)
	reg := registry.New(cfg, probe)
	if err := reg.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize agent registry: %w", err)
	}

	// 会话绑定与路由
	sessionMgr := session.NewManager(repo.Session, redisClient)
	router := routing.NewRouter(reg, sessionMgr)

	// 流式桥接器
	b := bridge.New(chatModel, time.Duration(cfg.Agents.QueryTimeout)*time.Second)

	return &Services{
		Chat:  chat.NewService(repo.Chat, router, b, reg),
		Agent: agent.NewService(reg, router, sessionMgr),
		Auth:  auth.NewService(repo),

		Config:     cfg,
		Registry:   reg,
		Router:     router,
		SessionMgr: sessionMgr,
		ChatModel:  chatModel,
	}, nil
}

// Cleanup 释放后台资源
func (s *Services) Cleanup() {
	if s.Registry != nil {
		s.Registry.Cleanup()
	}
}

// newChatModel 创建共享模型客户端
// openai 与 ollama 都走 OpenAI 兼容接口
func newChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	aiCfg := cfg.AI

	var apiKey, baseURL, modelName string

	switch aiCfg.Provider {
	case "openai":
		apiKey = aiCfg.OpenAI.APIKey
		baseURL = aiCfg.OpenAI.BaseURL
		modelName = aiCfg.OpenAI.Model
	case "ollama":
		// BaseURL 指向 Ollama 的 OpenAI 兼容端点（含 /v1）
		apiKey = aiCfg.Ollama.APIKey
		baseURL = aiCfg.Ollama.BaseURL
		modelName = aiCfg.Ollama.Model
		if apiKey == "" {
			apiKey = "ollama"
		}
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
	}

	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", aiCfg.Provider)
	}

	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
}
