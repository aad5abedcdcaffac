package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashwinyue/oneline-chat/internal/config"
	"github.com/ashwinyue/oneline-chat/internal/service/registry"
)

// fakeProbe 按 baseURL 决定探测结果
type fakeProbe struct {
	failing map[string]bool
}

func (p *fakeProbe) Check(ctx context.Context, baseURL string) (time.Duration, error) {
	if p.failing[baseURL] {
		return 0, errors.New("connection refused")
	}
	return time.Millisecond, nil
}

// mockPinStore 内存实现的绑定存储
type mockPinStore struct {
	pins     map[string]string
	getError error
	setError error
}

func newMockPinStore() *mockPinStore {
	return &mockPinStore{pins: make(map[string]string)}
}

func (m *mockPinStore) GetPin(ctx context.Context, chatID string) (string, error) {
	if m.getError != nil {
		return "", m.getError
	}
	return m.pins[chatID], nil
}

func (m *mockPinStore) SetPin(ctx context.Context, chatID, userID, agentID string) error {
	if m.setError != nil {
		return m.setError
	}
	m.pins[chatID] = agentID
	return nil
}

// newTestRegistry 注册 default-agent（在线）、other-agent（在线）、down-agent（离线）
func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	cfg := &config.Config{}
	cfg.AI.Provider = "openai"
	cfg.AI.OpenAI.Model = "default-agent"

	probe := &fakeProbe{failing: map[string]bool{"http://down": true}}
	reg := registry.New(cfg, probe)

	ctx := context.Background()
	for _, rec := range []*registry.AgentRecord{
		{ID: "default-agent", Type: registry.TypeSpecialized, BaseURL: "http://default"},
		{ID: "other-agent", Type: registry.TypeSpecialized, BaseURL: "http://other"},
		{ID: "down-agent", Type: registry.TypeSpecialized, BaseURL: "http://down"},
	} {
		reg.Register(rec)
		reg.CheckStatus(ctx, rec.ID)
	}
	return reg
}

func TestResolveExplicitAgent(t *testing.T) {
	router := NewRouter(newTestRegistry(t), newMockPinStore())

	rec, err := router.Resolve(context.Background(), "chat-1", "other-agent")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.ID != "other-agent" {
		t.Errorf("expected other-agent, got %s", rec.ID)
	}
}

func TestResolveExplicitAgentNotFound(t *testing.T) {
	router := NewRouter(newTestRegistry(t), newMockPinStore())

	_, err := router.Resolve(context.Background(), "chat-1", "missing")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestResolveExplicitAgentUnavailable(t *testing.T) {
	router := NewRouter(newTestRegistry(t), newMockPinStore())

	// 显式指定离线 Agent 不回退
	_, err := router.Resolve(context.Background(), "chat-1", "down-agent")
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("expected ErrAgentUnavailable, got %v", err)
	}
}

func TestResolveUsesPin(t *testing.T) {
	pins := newMockPinStore()
	pins.pins["chat-1"] = "other-agent"
	router := NewRouter(newTestRegistry(t), pins)

	rec, err := router.Resolve(context.Background(), "chat-1", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.ID != "other-agent" {
		t.Errorf("expected pinned agent, got %s", rec.ID)
	}
}

func TestResolveOfflinePinFallsBackToDefault(t *testing.T) {
	pins := newMockPinStore()
	pins.pins["chat-1"] = "down-agent"
	router := NewRouter(newTestRegistry(t), pins)

	rec, err := router.Resolve(context.Background(), "chat-1", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.ID != "default-agent" {
		t.Errorf("expected fallback to default, got %s", rec.ID)
	}
	// 绑定关系保持不变
	if pins.pins["chat-1"] != "down-agent" {
		t.Error("fallback must not rewrite the pin")
	}
}

func TestResolvePinStoreErrorFallsBack(t *testing.T) {
	pins := newMockPinStore()
	pins.getError = errors.New("redis down")
	router := NewRouter(newTestRegistry(t), pins)

	rec, err := router.Resolve(context.Background(), "chat-1", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.ID != "default-agent" {
		t.Errorf("expected default on pin store failure, got %s", rec.ID)
	}
}

func TestResolveDefault(t *testing.T) {
	router := NewRouter(newTestRegistry(t), newMockPinStore())

	rec, err := router.Resolve(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if rec.ID != "default-agent" {
		t.Errorf("expected default-agent, got %s", rec.ID)
	}
}

func TestResolveNoAgentsAvailable(t *testing.T) {
	cfg := &config.Config{}
	reg := registry.New(cfg, &fakeProbe{})
	router := NewRouter(reg, newMockPinStore())

	_, err := router.Resolve(context.Background(), "chat-1", "")
	if !errors.Is(err, ErrNoAgentsAvailable) {
		t.Fatalf("expected ErrNoAgentsAvailable, got %v", err)
	}
}

func TestSelectAgent(t *testing.T) {
	pins := newMockPinStore()
	router := NewRouter(newTestRegistry(t), pins)

	rec, err := router.SelectAgent(context.Background(), "chat-1", "user-1", "other-agent")
	if err != nil {
		t.Fatalf("SelectAgent failed: %v", err)
	}
	if rec.ID != "other-agent" {
		t.Errorf("expected other-agent, got %s", rec.ID)
	}
	if pins.pins["chat-1"] != "other-agent" {
		t.Error("pin not persisted")
	}
}

func TestSelectAgentNotFound(t *testing.T) {
	router := NewRouter(newTestRegistry(t), newMockPinStore())

	_, err := router.SelectAgent(context.Background(), "chat-1", "user-1", "missing")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

// 离线 Agent 允许被选中，解析时才回退
func TestSelectOfflineAgent(t *testing.T) {
	pins := newMockPinStore()
	router := NewRouter(newTestRegistry(t), pins)

	if _, err := router.SelectAgent(context.Background(), "chat-1", "user-1", "down-agent"); err != nil {
		t.Fatalf("selecting offline agent should succeed: %v", err)
	}
	if pins.pins["chat-1"] != "down-agent" {
		t.Error("pin not persisted for offline agent")
	}
}
