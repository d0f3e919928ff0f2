package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/audit"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/base"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/bootstrap"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note"
	noterepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/note/repo"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	rbacrepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/repo"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/upload"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/verification"
	"github.com/ovaphlow/pitchfork/service-admin-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-admin-go/pkg/utilities"
)

func main() {
	// best-effort: use a .env file when present, real env otherwise
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	sugar.Info("starting service-admin-go")

	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	backend, err := cacheBackend()
	if err != nil {
		sugar.Fatalf("cache backend: %v", err)
	}
	defer backend.Close()
	keyStore := cache.NewKeyStore(backend, sugar)
	invalidator := cache.NewInvalidator(keyStore)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	contentStore, err := note.NewMongoContentStore(startCtx, note.MongoConfigFromEnv())
	if err != nil {
		sugar.Fatalf("mongo connect: %v", err)
	}

	if err := bootstrap.EnsureSchema(startCtx, db); err != nil {
		sugar.Fatalf("ensure schema: %v", err)
	}

	userRepo := userrepo.NewUserRepo(db)
	rbacRepo := rbacrepo.NewRBACRepo(db)
	noteRepo := noterepo.NewNoteRepo(db)
	auditRepo := audit.NewRepo(db)

	codes := verification.NewCodeStore(keyStore)
	resolver := rbac.NewResolver(rbacRepo, keyStore, sugar)
	rbacSvc := rbac.NewService(rbacRepo, invalidator, sugar)
	userSvc := user.NewService(userRepo, nil, codes, rbacRepo, invalidator, sugar)
	noteSvc := note.NewService(noteRepo, contentStore, keyStore, invalidator, sugar)

	if err := bootstrap.SeedDefaults(startCtx, rbacSvc, userSvc, router.Defs(), sugar); err != nil {
		sugar.Fatalf("seed defaults: %v", err)
	}

	tokens, err := auth.NewTokenService(auth.TokenConfigFromEnv())
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}
	authMW := auth.NewMiddleware(tokens, userRepo, resolver, sugar)
	limiter := ratelimit.NewLimiter(keyStore, ratelimit.DefaultConfig(), sugar)

	handler := router.RegisterRoutes(router.Deps{
		Logger:  sugar,
		Auth:    authMW,
		Limiter: limiter,
		Audit:   audit.Middleware(auditRepo, sugar),
		Base: base.NewHandler(userSvc, resolver, tokens, codes,
			mailer.FromEnv(sugar), upload.NewClient(upload.ConfigFromEnv()), sugar),
		Users: user.NewHandler(userSvc, sugar),
		RBAC:  rbac.NewHandler(rbacSvc, router.Defs, sugar),
		Notes: note.NewHandler(noteSvc, sugar),
		Trail: audit.NewHandler(auditRepo, sugar),
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := contentStore.Close(doneCtx); err != nil {
		sugar.Warnf("mongo disconnect failed: %v", err)
	}
	sugar.Info("goodbye")
}

// cacheBackend picks the backend from CACHE_BACKEND: "memory" for the
// in-process cache, anything else (default) for redis.
func cacheBackend() (cache.Backend, error) {
	if os.Getenv("CACHE_BACKEND") == "memory" {
		return cache.NewMemoryBackend(), nil
	}
	return cache.NewRedisBackend(cache.RedisConfigFromEnv())
}
