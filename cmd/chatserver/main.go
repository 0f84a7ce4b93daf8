package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/dispatch"
	"im-chat/internal/handlers/chatserver"
	appKafka "im-chat/internal/kafka"
	"im-chat/internal/presence"
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
	log.Println("Chat 服务器配置加载成功。")

	instanceID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var background sync.WaitGroup

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, cfg.LogLevel)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	storage.SetRetryPolicy(storage.NewRetryPolicy(cfg.Store))
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatalf("无法迁移数据库表: %v", err)
	}
	log.Println("Chat 服务器数据库连接成功。")

	// 3. Repositories & Services
	userRepo := storage.NewGormUserRepository(db)
	friendRequestService := services.NewFriendRequestService(db, userRepo,
		storage.NewGormFriendRequestRepository(db), storage.NewGormFriendshipRepository(db))
	conversationService := services.NewConversationService(userRepo,
		storage.NewGormConversationRepository(db), storage.NewGormMessageRepository(db))

	// 4. 连接注册表，在线状态写回数据库
	registry := presence.NewRegistry(presence.NewStatusWriter(userRepo))

	// 5. Redis: 令牌黑名单 + 在线状态镜像
	var blacklist auth.TokenBlacklist
	if cfg.Redis.Enabled {
		redisClient, err := appRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("无法连接到 Redis: %v", err)
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)

		mirror := appRedis.NewPresenceMirror(redisClient, instanceID, cfg.Redis.PresenceTTL)
		registry.AddObserver(mirror)
		background.Add(1)
		go func() {
			defer background.Done()
			mirror.Run(ctx, registry.OnlineUsers)
		}()
		log.Println("成功连接到 Redis")
	}

	// 6. Kafka: 跨实例转发
	var opts []dispatch.Option
	var consumer appKafka.MessageConsumer
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("无法创建 Kafka 生产者: %v", err)
		}
		defer producer.Close()
		opts = append(opts, dispatch.WithRelay(appKafka.NewRelay(producer, cfg.Kafka.WebSocketOutgoingTopic, instanceID)))
		consumer = appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
		defer consumer.Close()
	}

	dispatcher := dispatch.New(registry, friendRequestService, conversationService, opts...)

	if consumer != nil {
		// 每个实例独立的 consumer group，保证所有实例都能收到全部转发记录
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroupPrefix, instanceID)
		background.Add(1)
		go func() {
			defer background.Done()
			topics := []string{cfg.Kafka.WebSocketOutgoingTopic}
			err := consumer.Consume(ctx, topics, groupID, appKafka.NewRelayHandler(instanceID, dispatcher.DeliverLocal))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Kafka 转发消费者错误: %v", err)
			}
			log.Println("Kafka 转发消费者 goroutine 已停止。")
		}()
	}

	// 7. 路由
	wsHandler := chatserver.NewWebSocketHandler(ctx, dispatcher, userRepo, blacklist, cfg)
	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", registry.Count())
	})

	// 8. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Printf("Chat 服务器 (实例 %s) 启动于 %s, WebSocket 路径: %s", instanceID, serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Chat 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Printf("Chat 服务器关闭失败: %v", err)
	}

	// 劫持的 websocket 连接不受 Shutdown 管理，需要单独关闭
	registry.CloseAll()
	cancel()
	background.Wait()
	log.Println("Chat 服务器已优雅关闭。")
}
