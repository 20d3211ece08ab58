// Command syncd runs the ERP synchronization core for one or more
// tenants: a webhook HTTP receiver per tenant and a periodic sync
// engine tick, dispatched concurrently across tenants by a worker
// pool while each tenant's own dispatch stays strictly sequential.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kavachlabs/erpsync/pkg/breaker"
	"github.com/kavachlabs/erpsync/pkg/buildinfo"
	"github.com/kavachlabs/erpsync/pkg/config"
	"github.com/kavachlabs/erpsync/pkg/credstore"
	"github.com/kavachlabs/erpsync/pkg/engine"
	"github.com/kavachlabs/erpsync/pkg/entitymap"
	"github.com/kavachlabs/erpsync/pkg/modules/contact"
	"github.com/kavachlabs/erpsync/pkg/obs"
	"github.com/kavachlabs/erpsync/pkg/queue"
	"github.com/kavachlabs/erpsync/pkg/registry"
	"github.com/kavachlabs/erpsync/pkg/rpcclient"
	"github.com/kavachlabs/erpsync/pkg/sqliteopt"
	"github.com/kavachlabs/erpsync/pkg/transport"
	"github.com/kavachlabs/erpsync/pkg/webhook"
	"github.com/kavachlabs/erpsync/pkg/workerpool"
)

const (
	defaultDataDir      = "data"
	defaultAddress      = "0.0.0.0:8090"
	defaultTickInterval = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// tenantEnvPrefix turns a tenant id into the SYNCD_<TENANT>_ prefix its
// per-tenant overrides are read from.
func tenantEnvPrefix(tenant string) string {
	return "SYNCD_" + strings.ToUpper(strings.ReplaceAll(tenant, "-", "_")) + "_"
}

func loadConfig(path string) config.Config {
	cfg := config.Default()
	data, err := os.ReadFile(path)
	if err != nil {
		obs.Warn("[SYNCD] config file %s not readable, using defaults: %v", path, err)
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		obs.Error("[SYNCD] config file %s malformed, using defaults: %v", path, err)
		return config.Default()
	}
	if err := cfg.Validate(); err != nil {
		obs.Error("[SYNCD] config file %s failed validation, using defaults: %v", path, err)
		return config.Default()
	}
	return cfg
}

func buildTransport(cfg config.Config) transport.Transport {
	opts := transport.Options{
		BaseURL:            cfg.Connection.URL,
		Timeout:            time.Duration(cfg.Connection.TimeoutSeconds) * time.Second,
		InsecureSkipVerify: false,
	}
	if cfg.Connection.Protocol == config.ProtocolXMLRPC {
		return transport.NewXMLRPC(opts, "", "")
	}
	return transport.NewJSONRPC(opts)
}

// tenantRuntime bundles one tenant's fully wired engine and webhook
// receiver, plus the resources that need a clean shutdown or a periodic
// retention sweep.
type tenantRuntime struct {
	tenant        string
	eng           *engine.Engine
	recv          *webhook.Receiver
	breakerStore  *breaker.BoltStore
	queue         *queue.Repository
	logStore      *obs.Store
	retentionDays int
}

// buildTenant wires one tenant's durable stores, its own leveled logger
// (persisting through obs.Store into that tenant's db rather than the
// shared process-wide default), and the engine/webhook pair that use it.
func buildTenant(tenant, dataDir string) (*tenantRuntime, error) {
	tenantDir := filepath.Join(dataDir, tenant)
	if err := os.MkdirAll(tenantDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tenant dir: %w", err)
	}

	prefix := tenantEnvPrefix(tenant)
	cfg := loadConfig(envOr(prefix+"CONFIG", filepath.Join(tenantDir, "config.json")))

	dbPath := filepath.Join(tenantDir, "sync.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if err := sqliteopt.ApplyFileHints(dbPath); err != nil {
		obs.Warn("[SYNCD] tenant=%s applying POSIX file hints to %s: %v", tenant, dbPath, err)
	}

	logger := obs.New(os.Stdout, "", obs.ParseLevel(cfg.Log.MinLevel))
	var logStore *obs.Store
	if cfg.Log.Enabled {
		logStore, err = obs.NewStore(db)
		if err != nil {
			obs.Error("[SYNCD] tenant=%s init log store: %v", tenant, err)
		} else {
			logger.SetSink(logStore)
		}
	}

	q, err := queue.New(db)
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	entMap, err := entitymap.New(db)
	if err != nil {
		return nil, fmt.Errorf("init entity map: %w", err)
	}

	breakerStore, err := breaker.OpenBoltStore(filepath.Join(tenantDir, "breakers.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open breaker store: %w", err)
	}
	breakerMgr := breaker.NewManager(breakerStore)

	key := credstore.DeriveKey(os.Getenv("SYNCD_CRED_SECRET_1"), os.Getenv("SYNCD_CRED_SECRET_2"))
	apiKey := ""
	if encrypted := os.Getenv(prefix + "ENCRYPTED_API_KEY"); encrypted != "" {
		apiKey, err = credstore.Decrypt(key, encrypted)
		if err != nil {
			logger.Error("tenant=%s decrypt stored API key: %v", tenant, err)
		}
	}

	tr := buildTransport(cfg)
	client := rpcclient.New(tr, rpcclient.Credentials{
		DB:       cfg.Connection.Database,
		Username: cfg.Connection.Username,
		Password: apiKey,
	})

	reg := registry.New()
	reg.Register(contact.New(client, entMap))

	notify := func(module string, consecutiveFailures int) {
		logger.WithContext(tenant, obs.CriticalLevel, "engine", fmt.Sprintf("module %s has failed %d consecutive jobs, notify admin", module, consecutiveFailures), map[string]interface{}{
			"module":               module,
			"consecutive_failures": consecutiveFailures,
		})
	}

	lockPath := filepath.Join(tenantDir, "syncd.lock")
	eng := engine.New(tenant, lockPath, q, reg, breakerMgr, cfg, logger, notify)

	recv := webhook.New(tenant, os.Getenv(prefix+"WEBHOOK_TOKEN"), q, reg, logger)

	retentionDays := cfg.Log.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &tenantRuntime{
		tenant:        tenant,
		eng:           eng,
		recv:          recv,
		breakerStore:  breakerStore,
		queue:         q,
		logStore:      logStore,
		retentionDays: retentionDays,
	}, nil
}

func tenantList() []string {
	raw := os.Getenv("SYNCD_TENANTS")
	if raw == "" {
		return []string{envOr("SYNCD_TENANT", "default")}
	}
	var tenants []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	if len(tenants) == 0 {
		return []string{"default"}
	}
	return tenants
}

func main() {
	dataDir := envOr("SYNCD_DATA_DIR", defaultDataDir)
	address := envOr("SYNCD_ADDRESS", defaultAddress)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		obs.Critical("[SYNCD] cannot create data dir %s: %v", dataDir, err)
		os.Exit(1)
	}

	tenants := tenantList()
	runtimes := make([]*tenantRuntime, 0, len(tenants))
	for _, tenant := range tenants {
		rt, err := buildTenant(tenant, dataDir)
		if err != nil {
			obs.Critical("[SYNCD] tenant=%s init failed: %v", tenant, err)
			os.Exit(1)
		}
		runtimes = append(runtimes, rt)
	}
	defer func() {
		for _, rt := range runtimes {
			rt.breakerStore.Close()
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"retcode": 0, "message": "ok", "payload": gin.H{"version": buildinfo.Version()}})
	})
	for _, rt := range runtimes {
		rt.recv.Register(router.Group("/" + rt.tenant))
	}

	srv := &http.Server{Addr: address, Handler: router}
	go func() {
		obs.Info("[SYNCD] webhook listener starting on %s for %d tenant(s)", address, len(runtimes))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Error("[SYNCD] webhook listener stopped: %v", err)
		}
	}()

	pool := workerpool.NewWorkerPool(nil)

	tickCtx, cancelTick := context.WithCancel(context.Background())
	go runTickLoop(tickCtx, pool, runtimes)
	for _, rt := range runtimes {
		go runRetentionSweep(tickCtx, rt)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	obs.Info("[SYNCD] shutting down")
	cancelTick()
	pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		obs.Error("[SYNCD] webhook listener forced shutdown: %v", err)
	}
}

// runTickLoop fires every defaultTickInterval and submits one tick task
// per tenant to pool; the pool bounds how many tenants tick at once
// while each tenant's own Tick call remains sequential end to end.
func runTickLoop(ctx context.Context, pool *workerpool.WorkerPool, runtimes []*tenantRuntime) {
	ticker := time.NewTicker(defaultTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rt := range runtimes {
				rt := rt
				if err := pool.Submit(workerpool.TaskFunc(func(context.Context) error {
					return tickTenant(rt)
				})); err != nil {
					obs.Error("[SYNCD] tenant=%s submit tick: %v", rt.tenant, err)
				}
			}
		}
	}
}

// retentionSweepInterval is how often a tenant's logs/jobs are swept for
// rows past their configured retention window.
const retentionSweepInterval = 24 * time.Hour

// runRetentionSweep periodically deletes logs and terminal queue rows
// older than rt's configured retention_days, mirroring the queue and log
// stores' own cleanup(days) operations.
func runRetentionSweep(ctx context.Context, rt *tenantRuntime) {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.logStore != nil {
				if n, err := rt.logStore.Cleanup(rt.retentionDays); err != nil {
					obs.Error("[SYNCD] tenant=%s log retention cleanup: %v", rt.tenant, err)
				} else if n > 0 {
					obs.Info("[SYNCD] tenant=%s log retention cleanup removed %d rows", rt.tenant, n)
				}
			}
			if n, err := rt.queue.Cleanup(rt.retentionDays); err != nil {
				obs.Error("[SYNCD] tenant=%s queue retention cleanup: %v", rt.tenant, err)
			} else if n > 0 {
				obs.Info("[SYNCD] tenant=%s queue retention cleanup removed %d rows", rt.tenant, n)
			}
		}
	}
}

func tickTenant(rt *tenantRuntime) error {
	result, err := rt.eng.Tick(nil)
	if err != nil {
		obs.Error("[SYNCD] tenant=%s tick error: %v", rt.tenant, err)
		return err
	}
	if result.Claimed > 0 {
		obs.Info("[SYNCD] tenant=%s tick claimed=%d completed=%d retried=%d failed=%d skipped=%d",
			rt.tenant, result.Claimed, result.Completed, result.Retried, result.Failed, result.Skipped)
	}
	return nil
}
