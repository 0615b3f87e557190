package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/pipeline"

	"github.com/gin-gonic/gin"
)

// SessionController 是 HTTP 接口能操作的对话
type SessionController interface {
	ID() string
	Stats() pipeline.Stats
	RequestTermination()
}

// Server 控制面 HTTP 服务：健康检查、对话状态、结束对话，以及可选的 WHIP 接入
type Server struct {
	engine  *gin.Engine
	httpSrv *http.Server
	session SessionController
	whip    *WHIPServer
}

// New 创建服务，port 为 0 时监听随机端口
func New(port int, session SessionController) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:  engine,
		session: session,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/conversation", s.handleConversation)
	engine.DELETE("/conversation", s.handleTerminate)
	return s
}

// EnableWHIP 注册 WHIP 端点
func (s *Server) EnableWHIP(w *WHIPServer) {
	s.whip = w
	s.engine.POST("/whip", w.HandleWHIP)
	s.engine.DELETE("/whip/sessions/:id", w.HandleDelete)
}

// Handler 返回 HTTP handler，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 在后台开始监听，返回实际监听地址
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	logger.Info("Starting control server on %s", ln.Addr())

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control server stopped: %v", err)
		}
	}()
	return ln.Addr(), nil
}

// Shutdown 停止接受请求并断开 WHIP 对端
func (s *Server) Shutdown(ctx context.Context) error {
	if s.whip != nil {
		s.whip.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConversation(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Stats())
}

// handleTerminate 只投递终止请求，对话由轮询循环结束
func (s *Server) handleTerminate(c *gin.Context) {
	logger.Info("Termination requested over http for conversation %s", s.session.ID())
	s.session.RequestTermination()
	c.JSON(http.StatusAccepted, gin.H{"id": s.session.ID()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
