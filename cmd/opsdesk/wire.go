package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/opsdesk/pkg/activity"
	"github.com/platinummonkey/opsdesk/pkg/api"
	"github.com/platinummonkey/opsdesk/pkg/approval"
	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/broadcast"
	"github.com/platinummonkey/opsdesk/pkg/config"
	"github.com/platinummonkey/opsdesk/pkg/mail"
	"github.com/platinummonkey/opsdesk/pkg/middleware"
	"github.com/platinummonkey/opsdesk/pkg/observability"
	"github.com/platinummonkey/opsdesk/pkg/rbac"
	"github.com/platinummonkey/opsdesk/pkg/storage/objectstore"
	"github.com/platinummonkey/opsdesk/pkg/storage/postgres"
	"github.com/platinummonkey/opsdesk/pkg/webhooks"
)

// application holds everything the server needs plus the background work
// that runs beside it
type application struct {
	deps api.Deps

	db     *sql.DB
	redis  *redis.Client
	relay  *broadcast.PGRelay
	poll   *mail.Scheduler
	local  []*middleware.RateLimiter
	logger *observability.Logger

	wg sync.WaitGroup
}

func wire(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*application, error) {
	app := &application{logger: logger}

	db, err := postgres.Open(connectionConfig(cfg.Database))
	if err != nil {
		return nil, err
	}
	app.db = db
	store := postgres.NewStore(db, metrics)

	policy := auth.DefaultPolicy()
	if cfg.Auth.PolicyFile != "" {
		if policy, err = auth.LoadPolicyFile(cfg.Auth.PolicyFile); err != nil {
			app.close()
			return nil, err
		}
	}

	secret := []byte(cfg.Auth.JWTSecret)
	issuer := auth.NewTokenIssuer(secret, cfg.Auth.JWTIssuer, cfg.Auth.SessionTTL)
	resolvers := auth.ChainResolver{auth.NewJWTResolver(secret, cfg.Auth.JWTIssuer, cfg.Auth.CookieName, policy)}

	var login *auth.OIDCLogin
	if cfg.Auth.OIDCEnabled() {
		verifier, oidcLogin, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDCIssuer,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		}, store.Profiles, issuer)
		if err != nil {
			app.close()
			return nil, err
		}
		login = oidcLogin
		resolvers = append(resolvers, auth.NewOIDCResolver(verifier, store.Profiles, policy, cfg.Auth.CookieName))
		logger.WithField("issuer", cfg.Auth.OIDCIssuer).Info("OIDC login enabled")
	}

	hub := broadcast.NewHub(metrics)
	app.relay = broadcast.NewPGRelay(db, cfg.Database.ListenURL, hub)
	recorder := activity.NewRecorder(store.Activity, metrics)

	deps := api.Deps{
		Stores: api.Stores{
			Profiles:    store.Profiles,
			Employees:   store.Employees,
			Projects:    store.Projects,
			Tasks:       store.Tasks,
			Submissions: store.Submissions,
			Jobs:        store.Jobs,
			Comments:    store.Comments,
			Attachments: store.Attachments,
			Contacts:    store.Contacts,
			Emails:      store.Emails,
			Activity:    store.Activity,
			Relations:   store.Relations,
		},
		Approvals: approval.NewService(store.Submissions, store.Projects, recorder, app.relay, metrics),
		Hub:       hub,
		Recorder:  recorder,
		Gate:      rbac.NewGate(resolvers, policy, metrics),
		Ownership: rbac.NewOwnership(store.Relations),
		Login:     login,
		Metrics:   metrics,
		Logger:    logger,

		CookieName:     cfg.Auth.CookieName,
		CookieSecure:   cfg.Auth.CookieSecure,
		SessionTTL:     cfg.Auth.SessionTTL,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	if cfg.Redis.URL != "" {
		app.redis, err = openRedis(ctx, cfg.Redis)
		if err != nil {
			// rate limits fall back to per-instance buckets
			logger.WithError(err).Warn("Redis unavailable, using in-memory rate limits")
		}
	}

	health := observability.NewHealthChecker(db, app.redis)
	health.SetVersion(cfg.Observability.OTelServiceVersion)

	if cfg.Storage.Enabled() {
		objects, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Endpoint:       cfg.Storage.S3Endpoint,
			Region:         cfg.Storage.S3Region,
			Bucket:         cfg.Storage.S3Bucket,
			AccessKey:      cfg.Storage.S3AccessKey,
			SecretKey:      cfg.Storage.S3SecretKey,
			ForcePathStyle: cfg.Storage.S3ForcePathStyle,
			CreateBucket:   cfg.Storage.S3Endpoint != "",
		})
		if err != nil {
			app.close()
			return nil, err
		}
		deps.Objects = objects
		health.AddCheck("object_storage", false, objects.HealthCheck)
	} else {
		logger.Warn("Object storage not configured, attachments are disabled")
	}

	if cfg.Mail.SMTPEnabled() {
		sender, err := mail.NewSMTPSender(cfg.Mail)
		if err != nil {
			app.close()
			return nil, err
		}
		deps.Outbox = mail.NewOutbox(sender, store.Emails, cfg.Mail.FromAddress, recorder)
	}

	if cfg.Mail.InboxEnabled() {
		fetcher := mail.NewHTTPFetcher(cfg.Mail.ProviderURL, cfg.Mail.ProviderToken)
		deps.Poller = mail.NewPoller(fetcher, store.Emails, app.relay, cfg.Mail.Mailboxes, metrics)
		if cfg.Mail.PollInProcess {
			app.poll, err = mail.NewScheduler(deps.Poller, cfg.Mail.PollSchedule, mail.CronLogger(logger))
			if err != nil {
				app.close()
				return nil, err
			}
		}
	}

	if cfg.Webhook.Secret != "" {
		verifier, err := webhooks.NewVerifier(cfg.Webhook.Secret)
		if err != nil {
			app.close()
			return nil, err
		}
		deps.Webhooks = webhooks.NewReceiver(verifier, app.relay, cfg.Webhook.MaxBodyBytes, metrics)
	}

	callers, err := middleware.NewCallers(resolvers, cfg.Auth.CookieName, cfg.Server.TrustedProxies)
	if err != nil {
		app.close()
		return nil, err
	}

	if cfg.RateLimit.Enabled {
		apiCfg := middleware.DefaultRateLimitConfig()
		apiCfg.RequestsPerWindow = cfg.RateLimit.RequestsPerMinute
		apiCfg.BurstSize = cfg.RateLimit.Burst
		publicCfg := middleware.PublicFormRateLimitConfig()
		publicCfg.RequestsPerWindow = cfg.RateLimit.PublicPerMinute

		deps.APILimiter = middleware.NewRateLimitMiddleware(app.limiter(apiCfg, "api"), "api", callers, metrics)
		deps.PublicLimiter = middleware.NewRateLimitMiddleware(app.limiter(publicCfg, "public"), "public", callers, metrics)
	}

	if cfg.Cache.Enabled {
		deps.Cache = middleware.NewResponseCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, callers, metrics)
	}

	deps.Health = health
	app.deps = deps
	return app, nil
}

// limiter prefers the shared redis limiter and falls back to a local one
func (a *application) limiter(cfg *middleware.RateLimitConfig, name string) middleware.Limiter {
	if a.redis != nil {
		return middleware.NewDistributedRateLimiter(a.redis, cfg, "opsdesk:ratelimit:"+name)
	}
	local := middleware.NewRateLimiter(cfg)
	a.local = append(a.local, local)
	return local
}

// start launches the relay, the in-process inbox poller and pool metrics
func (a *application) start(ctx context.Context) {
	a.goRun(ctx, "event relay", a.relay.Run)
	if a.poll != nil {
		a.goRun(ctx, "inbox poller", a.poll.Run)
	}
	for _, rl := range a.local {
		rl.StartCleanup(ctx)
	}
	postgres.StartPoolStatsRoutine(ctx, a.db, a.deps.Metrics, a.logger, 15*time.Second)
}

func (a *application) goRun(ctx context.Context, name string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer observability.RecoverPanic(a.logger, name)
		if err := fn(ctx); err != nil {
			a.logger.WithError(err).WithField("worker", name).Error("Background worker stopped")
		}
	}()
}

// wait blocks until background workers return
func (a *application) wait() {
	a.wg.Wait()
}

func (a *application) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
