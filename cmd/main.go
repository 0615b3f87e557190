package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"voicelink/internal/config"
	"voicelink/pkg/logger"
	"voicelink/pkg/server"
	"voicelink/pkg/server/agent"
	"voicelink/pkg/server/connection"
	"voicelink/pkg/server/orchestrator"

	"github.com/gin-gonic/gin"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	envFile := flag.String("env", ".env", "env file loaded before the config, ignored when missing")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger.InitLogger(&cfg.Log)
	defer logger.Sync()

	// 设置 gin 为 release 模式，关闭调试信息
	gin.SetMode(gin.ReleaseMode)

	devices, err := agent.OpenDevices(cfg)
	if err != nil {
		logger.Error("Failed to open audio devices: %v", err)
		return 1
	}

	voiceAgent, err := agent.NewVoiceAgent(cfg, devices)
	if err != nil {
		logger.Error("Failed to create voice agent: %v", err)
		_ = devices.Release()
		return 1
	}

	var srv *server.Server
	if cfg.Server.HTTPPort > 0 {
		srv = server.New(cfg.Server.HTTPPort, voiceAgent)
		if devices.WebRTCSource != nil {
			factory, err := connection.NewWebRTCFactory(cfg.Server.UDPPort, cfg.Server.PublicIP)
			if err != nil {
				logger.Error("Failed to initialize WHIP server: %v", err)
				voiceAgent.Stop()
				return 1
			}
			defer factory.Close()
			srv.EnableWHIP(server.NewWHIPServer(factory, devices.WebRTCSource, devices.WebRTCSink, voiceAgent.RequestTermination))
		}
		if _, err := srv.Start(); err != nil {
			logger.Error("Failed to start control server: %v", err)
			voiceAgent.Stop()
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Control server shutdown: %v", err)
			}
		}()
	}

	// 启动可能要连接远端服务，Ctrl+C 需要能中止启动并释放设备
	stop := orchestrator.NotifyInterrupt(voiceAgent.Orchestrator())
	defer stop()

	if err := voiceAgent.Start(context.Background()); err != nil {
		logger.Error("Failed to start conversation: %v", err)
		voiceAgent.Stop()
		return 1
	}
	if voiceAgent.Conversation().IsActive() {
		fmt.Println("Conversation started, press Ctrl+C to end")
	}

	if err := voiceAgent.Run(context.Background()); err != nil {
		logger.Error("Conversation ended with error: %v", err)
		return 1
	}

	logger.Info("Conversation %s ended", voiceAgent.ID())
	return 0
}
