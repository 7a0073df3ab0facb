package player

import (
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
)

// 状态服务关闭的最长等待时间
const statusShutdownTimeout = 5 * time.Second

// HealthResponse 是 /health 的响应体
type HealthResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// ErrorResponse 是状态服务的错误响应体
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusServer 通过 HTTP 暴露 player 的健康检查与状态
type StatusServer struct {
	app      *fiber.App
	player   *Player
	listener net.Listener
}

// NewStatusServer 创建状态服务并注册路由
func NewStatusServer(p *Player) *StatusServer {
	app := fiber.New(fiber.Config{
		AppName:               "conductor player",
		DisableStartupMessage: true,
		ErrorHandler:          statusErrorHandler,
	})
	app.Use(fiberrecover.New())

	s := &StatusServer{app: app, player: p}
	app.Get("/health", s.health)
	app.Get("/status", s.status)
	return s
}

// App 返回底层的 fiber 应用，用于测试
func (s *StatusServer) App() *fiber.App {
	return s.app
}

// Start 绑定地址并在后台提供服务
func (s *StatusServer) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("监听状态地址 %s 失败: %w", address, err)
	}
	s.listener = ln

	go func() {
		if err := s.app.Listener(ln); err != nil {
			log.Error("状态服务退出: %v", err)
		}
	}()
	log.Info("状态服务监听 %s", ln.Addr())
	return nil
}

// Addr 返回状态服务的实际地址
func (s *StatusServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 关闭状态服务
func (s *StatusServer) Stop() error {
	return s.app.ShutdownWithTimeout(statusShutdownTimeout)
}

func (s *StatusServer) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok", ID: s.player.config.ID})
}

func (s *StatusServer) status(c *fiber.Ctx) error {
	return c.JSON(s.player.Status())
}

func statusErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
