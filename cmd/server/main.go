// Package main 是 skill HTTP 服务和 Kafka 入库 worker 的入口。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/handler"
	"prepdocs-go/internal/middleware"
	"prepdocs-go/internal/service"
	"prepdocs-go/pkg/database"
	"prepdocs-go/pkg/kafka"
	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/token"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("PREPDOCS_CONFIG")
	if configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			configPath = defaultConfigPath
		}
	}
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置校验失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.LogLevel(), cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化外部依赖和 Service
	collaborators, err := service.BuildCollaborators(ctx, cfg)
	if err != nil {
		log.Fatal("初始化依赖失败", err)
	}
	ingestService := service.NewIngestService(cfg, collaborators)

	// 4. 启动后台 Kafka 消费者
	var wg sync.WaitGroup
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()

		var counter kafka.AttemptCounter
		if cfg.Database.Redis.Addr != "" {
			rdb, err := database.InitRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
			if err != nil {
				log.Fatal("Redis 初始化失败", err)
			}
			defer rdb.Close()
			counter = kafka.NewRedisAttemptCounter(rdb)
		} else {
			log.Warnf("未配置 Redis，失败的入库任务不会重试")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			kafka.StartConsumer(ctx, cfg.Kafka, ingestService, counter, producer)
		}()
	}

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	var skillMiddlewares []gin.HandlerFunc
	if cfg.Auth.JWTSecret != "" {
		jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpireHours)
		skillMiddlewares = append(skillMiddlewares, middleware.SkillAuth(jwtManager))
	} else {
		log.Warnf("未配置 auth.jwt_secret，skill 接口不做鉴权")
	}
	handler.NewSkillHandler(ingestService, cfg.Storage).RegisterRoutes(r, skillMiddlewares...)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// ctx 取消后消费者循环会自行退出
	wg.Wait()
	log.Info("服务已优雅关闭")
}
