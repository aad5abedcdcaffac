package routing

import "errors"

// 路由解析失败的哨兵错误，handler 层据此映射 HTTP 状态码
var (
	// ErrAgentNotFound 显式指定的 Agent 不存在
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentUnavailable 显式指定的 Agent 存在但不在线
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrNoAgentsAvailable 注册表中没有任何在线 Agent 可供回退
	ErrNoAgentsAvailable = errors.New("no agents available")
)
