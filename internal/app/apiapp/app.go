package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/config"
	creeminfra "github.com/ivankudzin/skillmarket/internal/infra/creem"
	"github.com/ivankudzin/skillmarket/internal/infra/httpclient"
	s3infra "github.com/ivankudzin/skillmarket/internal/infra/s3"
	"github.com/ivankudzin/skillmarket/internal/infra/supabase"
	"github.com/ivankudzin/skillmarket/internal/jobs/reconcile"
	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
	redrepo "github.com/ivankudzin/skillmarket/internal/repo/redis"
	analyticsvc "github.com/ivankudzin/skillmarket/internal/services/analytics"
	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	catalogsvc "github.com/ivankudzin/skillmarket/internal/services/catalog"
	checkoutsvc "github.com/ivankudzin/skillmarket/internal/services/checkout"
	deliverysvc "github.com/ivankudzin/skillmarket/internal/services/delivery"
	identitysvc "github.com/ivankudzin/skillmarket/internal/services/identity"
	purchasesvc "github.com/ivankudzin/skillmarket/internal/services/purchases"
	ratesvc "github.com/ivankudzin/skillmarket/internal/services/rate"
	txsvc "github.com/ivankudzin/skillmarket/internal/services/transactions"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	reconcile  *reconcile.Job
	httpRouter http.Handler

	stopJobs context.CancelFunc
	jobsDone sync.WaitGroup
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redrepo.NewClient(ctx, redrepo.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	// Object storage only backs s3:// skill downloads, so the API can run
	// without it.
	var presigner deliverysvc.Presigner
	if client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing without signed downloads", zap.Error(err))
	} else {
		presigner = s3infra.NewPresigner(client)
	}

	if cfg.Creem.APIKey == "" {
		log.Warn("creem api key is empty, checkout calls will fail")
	}
	creemClient := creeminfra.NewClient(httpclient.New(cfg.Creem.Timeout), cfg.Creem.BaseURL(), cfg.Creem.APIKey)

	supabaseClient := supabase.NewClient(httpclient.New(cfg.Supabase.Timeout), supabase.Config{
		URL:            cfg.Supabase.URL,
		AnonKey:        cfg.Supabase.AnonKey,
		ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
	})
	if !supabaseClient.HasAdmin() {
		log.Warn("supabase service role key is empty, guest access links are disabled")
	}

	skillRepo := pgrepo.NewSkillRepo(pool)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	eventRepo := pgrepo.NewEventRepo(pool)
	sessionRepo := redrepo.NewSessionRepo(redisClient)
	cacheRepo := redrepo.NewCacheRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)
	reconcileQueue := redrepo.NewReconcileQueue(redisClient)

	analyticsService := analyticsvc.NewService(eventRepo, analyticsvc.Config{MaxBatchSize: 100}, log)
	catalogService := catalogsvc.NewService(catalogsvc.Dependencies{
		Skills:   skillRepo,
		Cache:    cacheRepo,
		CacheTTL: cfg.Catalog.CacheTTL,
		Logger:   log,
	})
	purchaseService := purchasesvc.NewService(purchaseRepo)
	authService := authsvc.NewService(authsvc.Dependencies{
		Sessions:   sessionRepo,
		Provider:   supabaseClient,
		Linker:     purchaseService,
		JWT:        authsvc.NewJWTManager(cfg.Supabase.JWTSecret),
		SessionTTL: cfg.Auth.SessionTTL,
		Logger:     log,
	})
	identityService := identitysvc.NewService(identitysvc.Dependencies{
		Provider: supabaseClient,
		SiteURL:  cfg.Site.URL,
		Logger:   log,
	})
	finalizer := purchasesvc.NewFinalizer(purchasesvc.FinalizerDependencies{
		Catalog:          catalogService,
		Checkouts:        creemClient,
		Guests:           identityService,
		Ledger:           purchaseService,
		Queue:            reconcileQueue,
		Audit:            analyticsService,
		DefaultProductID: cfg.Creem.ProductID,
		AutoLogin:        cfg.Auth.AutoLoginAfterPurchase,
		Logger:           log,
	})
	checkoutService := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Catalog:          catalogService,
		Provider:         creemClient,
		Limiter:          ratesvc.NewLimiter(rateRepo, cfg.Rate.CheckoutPerMinute, cfg.Rate.CheckoutPer10Sec),
		DefaultProductID: cfg.Creem.ProductID,
		Logger:           log,
	})
	transactionsService := txsvc.NewService(creemClient)
	deliveryService := deliverysvc.NewService(presigner, cfg.S3.PresignTTL)
	reconcileJob := reconcile.New(reconcileQueue, purchaseService, reconcile.Config{
		BatchSize:   cfg.Reconcile.BatchSize,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
	}, log)

	RegisterRoutes(r, Dependencies{
		AuthService:         authService,
		CatalogService:      catalogService,
		CheckoutService:     checkoutService,
		DeliveryService:     deliveryService,
		PurchaseService:     purchaseService,
		Finalizer:           finalizer,
		TransactionsService: transactionsService,
		Logger:              log,
		Config:              cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		reconcile:  reconcileJob,
		httpRouter: r,
	}, nil
}

// Run serves HTTP until Shutdown is called. The reconciliation loop runs
// alongside the server.
func (a *App) Run() error {
	jobsCtx, stop := context.WithCancel(context.Background())
	a.stopJobs = stop

	if a.reconcile != nil && a.cfg.Reconcile.Interval > 0 {
		a.jobsDone.Add(1)
		go func() {
			defer a.jobsDone.Done()
			a.reconcile.Loop(jobsCtx, a.cfg.Reconcile.Interval)
		}()
	}

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.stopJobs != nil {
		a.stopJobs()
	}
	a.jobsDone.Wait()

	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
