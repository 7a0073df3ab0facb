package player

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/conductor/pkg/types"
)

// FetchStatus 查询远程 player 的 /status 接口。
// address 可以是 host:port 或完整的 http(s) URL。
func FetchStatus(address string, timeout time.Duration) (*types.PlayerStatus, error) {
	url := strings.TrimRight(address, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url += "/status"

	client := fiber.AcquireClient()
	defer fiber.ReleaseClient(client)

	req := client.Get(url)
	req.Timeout(timeout)

	statusCode, body, errs := req.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("连接 player 状态服务失败: %v", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("player 状态服务返回 %d: %s", statusCode, strings.TrimSpace(string(body)))
	}

	var status types.PlayerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("解析 player 状态失败: %w", err)
	}
	return &status, nil
}
