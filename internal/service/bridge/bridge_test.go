package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/oneline-chat/internal/service/registry"
)

// fakeChatModel 固定输出的模型客户端
type fakeChatModel struct {
	chunks      []*schema.Message
	streamErr   error
	generateMsg *schema.Message
	generateErr error
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generateMsg, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return schema.StreamReaderFromArray(f.chunks), nil
}

// collect 读完整个事件流
func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish in time")
		}
	}
}

// assertDoneLast 校验终止标记永远是最后一个事件
func assertDoneLast(t *testing.T, events []Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("empty event stream")
	}
	last := events[len(events)-1]
	if last.Kind != EventDone || last.Data != "[DONE]" {
		t.Fatalf("last event must be done marker, got %s %q", last.Kind, last.Data)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Kind == EventDone {
			t.Fatal("done marker appeared before end of stream")
		}
	}
}

func systemRecord() *registry.AgentRecord {
	return &registry.AgentRecord{
		ID:          "gpt-4o",
		Type:        registry.TypeSystem,
		Model:       "gpt-4o",
		Temperature: 0.7,
	}
}

func remoteRecord(baseURL string) *registry.AgentRecord {
	return &registry.AgentRecord{
		ID:      "brd-agent",
		Type:    registry.TypeSpecialized,
		Model:   "brd-agent",
		BaseURL: baseURL,
	}
}

func TestStreamLocal(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "Hel"},
		{Role: schema.Assistant, Content: "lo"},
	}}
	b := New(fake, time.Second)

	s := b.StreamLocal(context.Background(), systemRecord(), []*schema.Message{schema.UserMessage("hi")}, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if s.Failed() {
		t.Error("stream should not be failed")
	}
	if got := s.FullText(); got != "Hello" {
		t.Errorf("accumulated text = %q, want %q", got, "Hello")
	}

	// 内容块都是合法的 chat.completion.chunk
	var contents []string
	for _, ev := range events {
		if ev.Kind != EventChunk {
			continue
		}
		var chunk CompletionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			t.Fatalf("invalid chunk json: %v", err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("unexpected object %q", chunk.Object)
		}
		contents = append(contents, chunk.Choices[0].Delta.Content)
	}
	if strings.Join(contents, "") != "Hello" {
		t.Errorf("chunk contents = %v", contents)
	}
}

func TestStreamLocalStartFailure(t *testing.T) {
	fake := &fakeChatModel{streamErr: errors.New("model unreachable")}
	b := New(fake, time.Second)

	s := b.StreamLocal(context.Background(), systemRecord(), nil, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if !s.Failed() {
		t.Fatal("stream should be failed")
	}
	if events[0].Kind != EventError {
		t.Fatalf("expected error event, got %s", events[0].Kind)
	}
	var se StreamError
	if err := json.Unmarshal([]byte(events[0].Data), &se); err != nil {
		t.Fatalf("invalid error json: %v", err)
	}
	if se.Error.Type != ErrKindAgentAPI {
		t.Errorf("error type = %q, want %q", se.Error.Type, ErrKindAgentAPI)
	}
}

func TestStreamLocalWithoutModelClient(t *testing.T) {
	b := New(nil, time.Second)

	s := b.StreamLocal(context.Background(), systemRecord(), []*schema.Message{schema.UserMessage("hi")}, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if !s.Failed() {
		t.Fatal("stream should be failed")
	}
	var se StreamError
	if err := json.Unmarshal([]byte(events[0].Data), &se); err != nil {
		t.Fatalf("invalid error json: %v", err)
	}
	if se.Error.Type != ErrKindInternal {
		t.Errorf("error type = %q, want %q", se.Error.Type, ErrKindInternal)
	}
}

func TestGenerateLocalWithoutModelClient(t *testing.T) {
	b := New(nil, time.Second)

	_, err := b.GenerateLocal(context.Background(), systemRecord(), []*schema.Message{schema.UserMessage("hi")}, Params{})
	if err == nil {
		t.Fatal("expected error when model client is not configured")
	}
}

func TestChunksShareCreatedTimestamp(t *testing.T) {
	fake := &fakeChatModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "a"},
		{Role: schema.Assistant, Content: "b"},
		{Role: schema.Assistant, Content: "c"},
	}}
	b := New(fake, time.Second)

	s := b.StreamLocal(context.Background(), systemRecord(), []*schema.Message{schema.UserMessage("hi")}, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	// 同一次响应的所有块共享同一个 created 时间戳
	var created []int64
	for _, ev := range events {
		if ev.Kind != EventChunk {
			continue
		}
		var chunk CompletionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			t.Fatalf("invalid chunk json: %v", err)
		}
		created = append(created, chunk.Created)
	}
	if len(created) == 0 {
		t.Fatal("no chunks emitted")
	}
	for _, c := range created {
		if c != s.Created {
			t.Fatalf("chunk created %d != stream created %d (all: %v)", c, s.Created, created)
		}
	}
}

func TestStreamRemoteForwardsSamplingParams(t *testing.T) {
	var got queryRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		fmt.Fprint(w, "ok\n")
	}))
	defer ts.Close()

	topP := 0.9
	presence := 0.5
	frequency := -0.5
	params := Params{
		TopP:             &topP,
		Stop:             []string{"\n\n"},
		PresencePenalty:  &presence,
		FrequencyPenalty: &frequency,
	}

	b := New(nil, time.Second)
	s := b.StreamRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, params)
	collect(t, s)

	if got.TopP == nil || *got.TopP != topP {
		t.Errorf("top_p not forwarded: %v", got.TopP)
	}
	if len(got.Stop) != 1 || got.Stop[0] != "\n\n" {
		t.Errorf("stop not forwarded: %v", got.Stop)
	}
	if got.PresencePenalty == nil || *got.PresencePenalty != presence {
		t.Errorf("presence_penalty not forwarded: %v", got.PresencePenalty)
	}
	if got.FrequencyPenalty == nil || *got.FrequencyPenalty != frequency {
		t.Errorf("frequency_penalty not forwarded: %v", got.FrequencyPenalty)
	}
}

func TestStreamRemoteWrapsPlainLines(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming request")
		}
		fmt.Fprint(w, "Hello\nWorld\n")
	}))
	defer ts.Close()

	b := New(nil, time.Second)
	s := b.StreamRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if s.Failed() {
		t.Error("stream should not be failed")
	}
	// 无前缀的行包装为内容块并累积
	if got := s.FullText(); got != "HelloWorld" {
		t.Errorf("accumulated text = %q, want %q", got, "HelloWorld")
	}
}

func TestStreamRemotePassthroughDataLines(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"chunk\"}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer ts.Close()

	b := New(nil, time.Second)
	s := b.StreamRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	var raws []string
	for _, ev := range events {
		if ev.Kind == EventRaw {
			raws = append(raws, ev.Data)
		}
	}
	if len(raws) != 2 || raws[0] != `{"content":"chunk"}` {
		t.Fatalf("unexpected raw events: %v", raws)
	}
	// 透传内容不计入累积文本
	if s.FullText() != "" {
		t.Errorf("passthrough must not accumulate, got %q", s.FullText())
	}
}

func TestStreamRemoteServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	b := New(nil, time.Second)
	s := b.StreamRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if !s.Failed() {
		t.Fatal("stream should be failed")
	}
	var se StreamError
	if err := json.Unmarshal([]byte(events[0].Data), &se); err != nil {
		t.Fatalf("invalid error json: %v", err)
	}
	if se.Error.Type != ErrKindAgentAPI {
		t.Errorf("error type = %q, want %q", se.Error.Type, ErrKindAgentAPI)
	}
}

func TestStreamRemoteMidStreamDisconnect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 声明的长度大于实际写出，客户端会读到非 EOF 错误
		w.Header().Set("Content-Length", "1000")
		fmt.Fprint(w, "Hello\nWorld\n")
	}))
	defer ts.Close()

	b := New(nil, time.Second)
	s := b.StreamRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
	events := collect(t, s)
	assertDoneLast(t, events)

	if !s.Failed() {
		t.Fatal("interrupted stream should be failed")
	}
	// 断开前的内容已经下发并累积
	if got := s.FullText(); got != "HelloWorld" {
		t.Errorf("accumulated text = %q, want %q", got, "HelloWorld")
	}
	// 错误块在 done 之前
	if events[len(events)-2].Kind != EventError {
		t.Errorf("expected error event before done, got %s", events[len(events)-2].Kind)
	}
}

func TestInvokeRemote(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"response field", `{"response":"hello"}`, "hello"},
		{"content field", `{"content":"hi"}`, "hi"},
		{"raw body fallback", `plain text`, "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req queryRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("bad request body: %v", err)
				}
				if req.Stream {
					t.Error("expected non-streaming request")
				}
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			b := New(nil, time.Second)
			got, err := b.InvokeRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
			if err != nil {
				t.Fatalf("InvokeRemote failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvokeRemoteServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	b := New(nil, time.Second)
	_, err := b.InvokeRemote(context.Background(), remoteRecord(ts.URL), "hi", nil, Params{})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestNewCompletionID(t *testing.T) {
	id := NewCompletionID()
	if !strings.HasPrefix(id, "chatcmpl-") {
		t.Errorf("id %q missing prefix", id)
	}
	if len(id) != len("chatcmpl-")+29 {
		t.Errorf("id %q has wrong length %d", id, len(id))
	}
	if id == NewCompletionID() {
		t.Error("ids should be unique")
	}
}
