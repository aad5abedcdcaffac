package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober 针对远程 Agent 的存活探测
type Prober interface {
	// Check 探测成功返回耗时，任何传输错误或非 200 均视为不健康
	Check(ctx context.Context, baseURL string) (time.Duration, error)
}

// HTTPProbe 通过 GET {base_url}/health 探测
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe 创建探测器
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		client: &http.Client{Timeout: timeout},
	}
}

// Check 实现 Prober
func (p *HTTPProbe) Check(ctx context.Context, baseURL string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return 0, fmt.Errorf("build health request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health check failed for %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("health check for %s returned status %d", baseURL, resp.StatusCode)
	}

	return time.Since(start), nil
}
