package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// 流内错误块的类型字段，客户端据此区分失败环节
const (
	ErrKindChunkProcessing = "chunk_processing_error"
	ErrKindAgentAPI        = "agent_api_error"
	ErrKindInternal        = "internal_error"
	ErrKindDatabase        = "database_error"
)

// ChunkDelta 增量内容
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice 单个选择分支
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// CompletionChunk 流式响应块，对齐 chat.completion.chunk 格式
type CompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// StreamError 流内错误块
type StreamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewCompletionID 生成 chatcmpl- 前缀的随机响应 ID
func NewCompletionID() string {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("chatcmpl-%029d", time.Now().UnixNano())
	}
	return "chatcmpl-" + hex.EncodeToString(buf)[:29]
}

// marshalChunk 构造一个内容块的 JSON
// created 由调用方固定为整个流的创建时间，同一响应的所有块共享
func marshalChunk(id, model string, created int64, content string, finishReason *string) string {
	chunk := CompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{
			{Index: 0, Delta: ChunkDelta{Content: content}, FinishReason: finishReason},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		// 结构里没有不可序列化的字段，走到这里说明出了大问题
		return MarshalError(ErrKindInternal, err.Error())
	}
	return string(data)
}

// MarshalError 构造一个错误块的 JSON
func MarshalError(kind, message string) string {
	var se StreamError
	se.Error.Message = message
	se.Error.Type = kind
	se.Error.Code = kind
	data, _ := json.Marshal(se)
	return string(data)
}

var finishStop = "stop"
