package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"draftCollab/backend/config"
	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/collab"
	"draftCollab/backend/internal/httpapi/handlers"
	"draftCollab/backend/internal/httpapi/middleware"
	"draftCollab/backend/internal/llm"
	"draftCollab/backend/internal/store"
	"draftCollab/backend/internal/ws"
)

func newVerifier(cfg *config.Config) middleware.Verifier {
	if cfg.Auth.Mode == "jwt" {
		return middleware.NewJWTVerifier(cfg.Auth.JWTSecret)
	}
	return middleware.NewRemoteVerifier(cfg.Auth.Path)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%v kafka=%v auth=%s", cfg.Running.Port, cfg.Redis.Addrs, cfg.Kafka.Enabled, cfg.Auth.Mode)

	// 单节点和集群都走 UniversalClient
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	gdb, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to open gorm: %v", err)
	}

	// === Kafka 事件（可选） ===
	var dispatcher *collab.KafkaDispatcher
	var publisher collab.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
		dispatcher = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, collab.NewSemaphoreControl(8), collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
		// 只在启用时赋值，避免 interface 里装着 nil 指针
		publisher = dispatcher
	}

	presenceCache := cache.NewRedisPresence(rdb)
	names := cache.NewDisplayNames(rdb, store.NewProfileRepo(gdb))
	registry := collab.NewRegistry(
		store.NewDocumentStore(db),
		presenceCache,
		publisher,
		collab.NewSemaphoreControl(cfg.Collab.MaxWrites),
		collab.Options{
			SaveDebounce:    cfg.Collab.SaveDebounce,
			RoomGracePeriod: cfg.Collab.RoomGracePeriod,
			PresenceTTL:     cfg.Collab.PresenceTTL,
		},
	)
	manager := ws.NewManager(registry, names, cfg.Collab.SendQueueSize)
	completer := llm.NewOpenAICompleter(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Cors.Enabled {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Cors.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/collab/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok", "rooms": registry.ActiveRooms(), "writesInFlight": registry.WritesInFlight()})
	})

	group := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，写入 userId/username
	group.Use(middleware.AuthMiddleware(newVerifier(cfg)))
	group.GET("/ws", manager.WebSocketConnect)
	group.POST("/ai/inline-suggest", llmTimeout(cfg.LLM.Timeout), handlers.NewSuggestHandler(completer).InlineSuggest)
	group.GET("/rooms/:docId/presence", handlers.NewPresenceHandler(registry, presenceCache).RoomPresence)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()
	log.Printf("collab server listening on %s", srv.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// 房间最后一次落盘完成后再停事件队列
	registry.Close()
	if dispatcher != nil {
		dispatcher.Close()
	}
}

// 单次补全流的最长时间
func llmTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
