package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/charlzpiarro/update/internal/cache"
	"github.com/charlzpiarro/update/internal/config"
	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/httpapi"
	"github.com/charlzpiarro/update/internal/service"
	"github.com/charlzpiarro/update/internal/stockreport"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/store/memory"
	pgstore "github.com/charlzpiarro/update/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.Options{
			LockTimeout:   cfg.LockTimeout(),
			RetryAttempts: cfg.LockRetryAttempts,
		})
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		if err := seedAdmin(ctx, pg, cfg.SeedAdminPassword); err != nil {
			log.Fatalf("seed admin: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	cacheStore := cache.InventoryCache(cache.NoopInventoryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInventoryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	reports := stockreport.NewEngine(repo, cacheStore, cfg.InventoryCacheTTL(), cfg.ExpiryHorizon())
	svc := service.New(repo, reports, service.Options{RefundWindow: cfg.RefundWindow()})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS core listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// seedAdmin creates the admin account on an empty database. Existing
// accounts are left untouched.
func seedAdmin(ctx context.Context, pg *pgstore.Store, password string) error {
	if password == "" {
		log.Println("SEED_ADMIN_PASSWORD not set; skipping admin seed")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return pg.EnsureUsers(ctx, []domain.UserAccount{{
		Username: "admin",
		Password: string(hash),
		Role:     domain.RoleAdmin,
		Active:   true,
	}})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL != "" && cfg.SeedAdminPassword != "" {
		if err := validateSeedPassword(cfg.SeedAdminPassword); err != nil {
			return fmt.Errorf("SEED_ADMIN_PASSWORD is too weak: %w", err)
		}
	}
	return nil
}

// validateSeedPassword rejects short passwords and the dev defaults the
// in-memory store ships with.
func validateSeedPassword(password string) error {
	if len(password) < 10 {
		return fmt.Errorf("must be at least 10 characters")
	}
	known := map[string]bool{
		"admin123": true, "cashier123": true, "staff123": true,
		"password123": true, "administrator": true, "1234567890": true,
	}
	if known[password] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character password not allowed")
	}
	return nil
}
