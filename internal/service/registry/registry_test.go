package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashwinyue/oneline-chat/internal/config"
)

// fakeProbe 按 baseURL 返回预设结果的探测器
type fakeProbe struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{failing: make(map[string]bool)}
}

func (p *fakeProbe) setFailing(baseURL string, failing bool) {
	p.mu.Lock()
	p.failing[baseURL] = failing
	p.mu.Unlock()
}

func (p *fakeProbe) Check(ctx context.Context, baseURL string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failing[baseURL] {
		return 0, errors.New("connection refused")
	}
	return 5 * time.Millisecond, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.AI.Provider = "openai"
	cfg.AI.OpenAI.APIKey = "test-key"
	cfg.AI.OpenAI.Model = "gpt-4o"
	cfg.Agents.HealthCheckInterval = 1
	cfg.Agents.ProbeTimeout = 1
	cfg.Agents.Candidates = []config.AgentCandidate{
		{
			ID:           "brd-agent",
			Name:         "BRD Agent",
			BaseURL:      "http://localhost:18001",
			Capabilities: []string{"brd", "document"},
			Enabled:      true,
		},
		{
			ID:           "prd-agent",
			Name:         "PRD Agent",
			BaseURL:      "http://localhost:18002",
			Capabilities: []string{"prd", "document"},
			Enabled:      false,
		},
	}
	return cfg
}

func TestInitialize(t *testing.T) {
	probe := newFakeProbe()
	reg := New(testConfig(), probe)
	defer reg.Cleanup()

	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// 系统 Agent 和启用的候选 Agent 都应注册
	if reg.Size() != 2 {
		t.Fatalf("expected 2 agents, got %d", reg.Size())
	}
	if _, ok := reg.Get("gpt-4o"); !ok {
		t.Error("system agent not registered")
	}
	if _, ok := reg.Get("brd-agent"); !ok {
		t.Error("enabled candidate not registered")
	}
	// 禁用的候选不注册
	if _, ok := reg.Get("prd-agent"); ok {
		t.Error("disabled candidate should not be registered")
	}
	if !reg.LoopRunning() {
		t.Error("health check loop should be running")
	}
}

func TestInitializeIdempotent(t *testing.T) {
	probe := newFakeProbe()
	reg := New(testConfig(), probe)
	defer reg.Cleanup()

	ctx := context.Background()
	if err := reg.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	size := reg.Size()

	if err := reg.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	if reg.Size() != size {
		t.Errorf("second Initialize changed registry size: %d -> %d", size, reg.Size())
	}
}

func TestInitializeSkipsUnreachableCandidate(t *testing.T) {
	probe := newFakeProbe()
	probe.setFailing("http://localhost:18001", true)
	reg := New(testConfig(), probe)
	defer reg.Cleanup()

	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, ok := reg.Get("brd-agent"); ok {
		t.Error("unreachable candidate should not be registered")
	}
	// 单个候选失败不影响系统 Agent
	if _, ok := reg.Get("gpt-4o"); !ok {
		t.Error("system agent should still be registered")
	}
}

func TestInitializeWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.AI.OpenAI.APIKey = ""
	probe := newFakeProbe()
	reg := New(cfg, probe)
	defer reg.Cleanup()

	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	// 缺少凭证时跳过系统 Agent，空注册表也不是错误
	if _, ok := reg.Get("gpt-4o"); ok {
		t.Error("system agent should be skipped without api key")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())

	reg.Register(&AgentRecord{ID: "a1", Name: "First"})
	reg.Register(&AgentRecord{ID: "a1", Name: "Second"})

	if reg.Size() != 1 {
		t.Fatalf("expected 1 agent, got %d", reg.Size())
	}
	rec, _ := reg.Get("a1")
	if rec.Name != "Second" {
		t.Errorf("expected replaced record, got %q", rec.Name)
	}
}

func TestUnregisterIsOnlyRemovalPath(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())

	rec := &AgentRecord{ID: "a1", Name: "Agent", BaseURL: "http://localhost:19999"}
	rec.setStatus(StatusOnline)
	reg.Register(rec)

	// 健康检查失败只置离线，不移除
	probe := newFakeProbe()
	probe.setFailing("http://localhost:19999", true)
	reg.probe = probe
	reg.checkAll(context.Background())

	got, ok := reg.Get("a1")
	if !ok {
		t.Fatal("failed health check must not remove the agent")
	}
	if got.Status() != StatusOffline {
		t.Errorf("expected offline after failed probe, got %s", got.Status())
	}

	if !reg.Unregister("a1") {
		t.Error("Unregister should report existing agent")
	}
	if _, ok := reg.Get("a1"); ok {
		t.Error("agent should be gone after Unregister")
	}
	if reg.Unregister("a1") {
		t.Error("Unregister of missing agent should report false")
	}
}

func TestListFiltersOffline(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())

	online := &AgentRecord{ID: "on"}
	online.setStatus(StatusOnline)
	offline := &AgentRecord{ID: "off"}
	offline.setStatus(StatusOffline)
	reg.Register(online)
	reg.Register(offline)

	if got := len(reg.List(false)); got != 1 {
		t.Errorf("List(false) expected 1, got %d", got)
	}
	if got := len(reg.List(true)); got != 2 {
		t.Errorf("List(true) expected 2, got %d", got)
	}
}

func TestListByCapability(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())

	doc := &AgentRecord{ID: "doc", Capabilities: []string{"document", "chat"}}
	doc.setStatus(StatusOnline)
	chat := &AgentRecord{ID: "chat", Capabilities: []string{"chat"}}
	chat.setStatus(StatusOnline)
	offlineDoc := &AgentRecord{ID: "doc-off", Capabilities: []string{"document"}}
	offlineDoc.setStatus(StatusOffline)
	reg.Register(doc)
	reg.Register(chat)
	reg.Register(offlineDoc)

	got := reg.ListByCapability("document")
	if len(got) != 1 || got[0].ID != "doc" {
		t.Errorf("expected only online doc agent, got %d records", len(got))
	}
}

func TestGetDefault(t *testing.T) {
	cfg := testConfig()
	reg := New(cfg, newFakeProbe())

	// 默认模型对应的 Agent 优先
	system := &AgentRecord{ID: "gpt-4o"}
	system.setStatus(StatusOnline)
	other := &AgentRecord{ID: "brd-agent"}
	other.setStatus(StatusOnline)
	reg.Register(other)
	reg.Register(system)

	rec, ok := reg.GetDefault()
	if !ok || rec.ID != "gpt-4o" {
		t.Fatalf("expected default gpt-4o, got %+v", rec)
	}

	// 默认不在时回退到任意在线 Agent
	reg.Unregister("gpt-4o")
	rec, ok = reg.GetDefault()
	if !ok || rec.ID != "brd-agent" {
		t.Fatalf("expected fallback to online agent, got %+v", rec)
	}

	reg.Unregister("brd-agent")
	if _, ok := reg.GetDefault(); ok {
		t.Error("empty registry should have no default")
	}
}

func TestCheckStatusHTTP(t *testing.T) {
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	reg := New(testConfig(), NewHTTPProbe(time.Second))
	rec := &AgentRecord{ID: "remote", Type: TypeSpecialized, BaseURL: ts.URL}
	reg.Register(rec)

	if got := reg.CheckStatus(context.Background(), "remote"); got != StatusOnline {
		t.Errorf("expected online, got %s", got)
	}

	healthy = false
	if got := reg.CheckStatus(context.Background(), "remote"); got != StatusOffline {
		t.Errorf("expected offline after 500, got %s", got)
	}

	// 未注册的 ID 视为离线
	if got := reg.CheckStatus(context.Background(), "missing"); got != StatusOffline {
		t.Errorf("expected offline for unknown agent, got %s", got)
	}
}

func TestCheckStatusSystemAgent(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())

	rec := &AgentRecord{ID: "gpt-4o", Type: TypeSystem, Provider: ProviderOpenAI, APIKey: "k"}
	reg.Register(rec)
	if got := reg.CheckStatus(context.Background(), "gpt-4o"); got != StatusOnline {
		t.Errorf("expected online with credentials, got %s", got)
	}

	rec.APIKey = ""
	if got := reg.CheckStatus(context.Background(), "gpt-4o"); got != StatusOffline {
		t.Errorf("expected offline without credentials, got %s", got)
	}
}

func TestCleanupStopsLoop(t *testing.T) {
	reg := New(testConfig(), newFakeProbe())
	if err := reg.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !reg.LoopRunning() {
		t.Fatal("loop should be running after Initialize")
	}

	reg.Cleanup()
	if reg.LoopRunning() {
		t.Error("loop should be stopped after Cleanup")
	}

	// 幂等
	reg.Cleanup()
}
