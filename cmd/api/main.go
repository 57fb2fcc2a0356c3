package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/voxbridge-ai/voxbridge/backend/internal/config"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/agents"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/agentws"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/authapi"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/calllogs"
	"github.com/voxbridge-ai/voxbridge/backend/internal/handler/dashboard"
	agentmodel "github.com/voxbridge-ai/voxbridge/backend/internal/model/agent"
	"github.com/voxbridge-ai/voxbridge/backend/internal/model/calllog"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/agentcore"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/auth"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/brain"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/memory"
	"github.com/voxbridge-ai/voxbridge/backend/internal/service/voice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	authService := auth.NewService(db, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMin)*time.Minute)

	mem, err := buildMemory(cfg.Memory)
	if err != nil {
		log.Fatalf("failed to initialize memory backend: %v", err)
	}

	// Initialize decision engine
	var engine *brain.Engine
	if cfg.Brain.Enabled() {
		chatModel, err := cfg.Brain.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without decision engine - 请检查 Ark 模型相关环境变量")
		} else if engine, err = brain.NewEngine(ctx, chatModel); err != nil {
			log.Printf("warning: failed to compile decision chain: %v", err)
			engine = nil
		} else {
			log.Println("decision engine initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过决策引擎初始化")
	}

	// Initialize speech clients
	var transcriber voice.Transcriber
	var synthesizer voice.Synthesizer
	if cfg.Speech.Enabled {
		transcriber = voice.NewASRClient(cfg.Speech)
		synthesizer = voice.NewTTSClient(cfg.Speech)
		log.Println("speech clients initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，会话将以纯静默轮次运行")
	}

	var decisionEngine brain.DecisionEngine
	if engine != nil {
		decisionEngine = engine
	}
	core := agentcore.New(decisionEngine, mem, nil)

	registry := agentws.NewRegistry(cfg.Session.MaxSessions, time.Duration(cfg.Session.IdleTimeoutSec)*time.Second)
	go registry.Run(ctx)

	agentStore := agentmodel.NewGormStore(db)
	callRecorder := calllog.NewGormRecorder(db)
	callTimeout := time.Duration(cfg.Speech.Timeout) * time.Second

	router := handler.NewRouter(handler.Dependencies{
		Auth:      authService,
		AuthAPI:   authapi.NewHandler(authService),
		Agents:    agents.NewHandler(agentStore, engine, mem),
		CallLogs:  calllogs.NewHandler(db),
		Dashboard: dashboard.NewHandler(db, registry),
		Voice:     agentws.NewHandler(agentStore, core, transcriber, synthesizer, callRecorder, registry, callTimeout),
	})

	startServer(ctx, cfg.Server, router)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&auth.User{}, &agentmodel.Profile{}, &calllog.CallLog{}); err != nil {
		return nil, err
	}
	return db, nil
}

// buildMemory selects the preference backend. REDIS_ADDR switches to redis;
// the default is one JSON file per tenant on local disk.
func buildMemory(cfg config.MemoryConfig) (*memory.Memory, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		log.Printf("preference store: redis at %s", cfg.RedisAddr)
		return memory.New(memory.NewRedisStore(client)), nil
	}

	store, err := memory.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	log.Printf("preference store: files under %s", cfg.StoragePath)
	return memory.New(store), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("VoxBridge backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
