package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/handlers/apiserver"
	"im-chat/internal/jobs"
	"im-chat/internal/mailer"
	"im-chat/internal/middleware"
	appRedis "im-chat/internal/redis"
	"im-chat/internal/services"
	"im-chat/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("API 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, cfg.LogLevel)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	storage.SetRetryPolicy(storage.NewRetryPolicy(cfg.Store))
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：API 服务器数据库表迁移可能失败: %v", err)
	}
	log.Println("API 服务器数据库连接成功。")

	// 3. Redis 与 TokenBlacklist
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Enabled {
		redisClient, err := appRedis.NewClient(context.Background(), cfg.Redis)
		if err != nil {
			log.Fatalf("无法连接到 Redis: %v", err)
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
		log.Println("成功连接到 Redis")
	} else {
		log.Println("警告: Redis 未启用，登出后的令牌不会被吊销")
	}

	// 4. 邮件：SMTP 或日志；启用后台任务时经 asynq 队列投递
	var deliver mailer.Mailer = mailer.LogMailer{}
	if cfg.Mail.Enabled {
		deliver = mailer.NewSMTPMailer(cfg.Mail)
	}
	authMailer := deliver
	var worker *jobs.Worker
	if cfg.Jobs.Enabled && cfg.Redis.Enabled {
		queued := jobs.NewQueuedMailer(cfg.Redis, cfg.Jobs)
		defer queued.Close()
		authMailer = queued

		worker = jobs.NewWorker(cfg.Redis, cfg.Jobs, deliver)
		if err := worker.Start(); err != nil {
			log.Fatalf("无法启动邮件任务 worker: %v", err)
		}
		log.Println("邮件任务 worker 已启动。")
	}

	// 5. Repositories / Services / Handlers
	userRepo := storage.NewGormUserRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)

	authService := services.NewAuthService(userRepo, authMailer, cfg.Auth)
	userService := services.NewUserService(userRepo, friendshipRepo)
	friendReqService := services.NewFriendRequestService(db, userRepo, storage.NewGormFriendRequestRepository(db), friendshipRepo)
	conversationService := services.NewConversationService(userRepo,
		storage.NewGormConversationRepository(db), storage.NewGormMessageRepository(db))

	r := apiserver.NewRouter(apiserver.Handlers{
		Auth:          apiserver.NewAuthHandler(authService, blacklist),
		User:          apiserver.NewUserHandler(userService),
		FriendRequest: apiserver.NewFriendRequestHandler(friendReqService),
		Conversation:  apiserver.NewConversationHandler(conversationService),
	}, middleware.AuthMiddleware(cfg.Auth, blacklist, userRepo))

	// 6. CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	// 7. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handlers.LoggingHandler(os.Stdout, corsHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Printf("API 服务器强制关闭: %v", err)
	}
	if worker != nil {
		worker.Shutdown()
	}
	log.Println("API 服务器已成功关闭")
}
