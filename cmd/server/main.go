package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/api"
	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/facebook"
	"github.com/ignite/outreach/internal/linkedin"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/ratelimit"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/repository/postgres"
	"github.com/ignite/outreach/internal/resend"
	"github.com/ignite/outreach/internal/service/campaign"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/oauth"
	"github.com/ignite/outreach/internal/service/sending"
	"github.com/ignite/outreach/internal/service/social"
	trackingsvc "github.com/ignite/outreach/internal/service/tracking"
	"github.com/ignite/outreach/internal/service/wallet"
	"github.com/ignite/outreach/internal/ses"
	"github.com/ignite/outreach/internal/storage"
	"github.com/ignite/outreach/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	return ln.Close()
}

// extractHost returns the host part of a DSN for logging without credentials.
func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

type recipientRepo interface {
	trackingsvc.Repository
	delivery.Repository
}

// repos groups the storage backends so memory and PostgreSQL modes wire the
// same way.
type repos struct {
	wallet      wallet.Repository
	campaigns   campaign.Repository
	recipients  recipientRepo
	connections oauth.Repository
}

func openRepos(ctx context.Context, cfg *config.Config) (repos, *sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		m := memory.NewStore()
		return repos{m.Wallets(), m.Campaigns(), m.Recipients(), m.Connections()}, nil, nil
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return repos{}, nil, err
	}
	logger.Info("connected to database", "host", extractHost(cfg.Database.URL))
	return repos{
		wallet:      postgres.NewWalletRepo(db),
		campaigns:   postgres.NewCampaignRepo(db),
		recipients:  postgres.NewRecipientRepo(db),
		connections: postgres.NewConnectionRepo(db),
	}, db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rc := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

func newSender(ctx context.Context, cfg config.EmailConfig) (sending.Sender, error) {
	switch cfg.Provider {
	case string(domain.EmailProviderSES):
		c, err := ses.NewClient(ctx, cfg.SES)
		if err != nil {
			return nil, err
		}
		return c, nil
	case string(domain.EmailProviderResend):
		if cfg.Resend.APIKey == "" {
			return nil, errors.New("email.resend.api_key is required")
		}
		doer := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.Resend.MaxRetries)
		return resend.NewClient(cfg.Resend.APIKey, cfg.Resend.BaseURL, doer), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
}

func newParsers(cfg config.WebhookConfig) ([]delivery.Parser, error) {
	var svix *delivery.SvixVerifier
	if cfg.ResendSigningSecret != "" {
		v, err := delivery.NewSvixVerifier(cfg.ResendSigningSecret)
		if err != nil {
			return nil, fmt.Errorf("resend signing secret: %w", err)
		}
		svix = v
	} else {
		logger.Warn("resend webhook signature verification disabled")
	}

	hc := httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2)
	var sns *delivery.SNSVerifier
	if cfg.VerifySNSSignature {
		sns = delivery.NewSNSVerifier(hc, cfg.SNSTopicARNs)
	} else {
		logger.Warn("sns signature verification disabled")
	}
	return []delivery.Parser{
		delivery.NewWebhookParser(string(domain.EmailProviderResend), svix),
		delivery.NewSNSParser(hc, sns),
	}, nil
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(!cfg.Log.DisablePIIRedaction)

	host, port := cfg.Server.GetHost(), cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rp, db, err := openRepos(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	rc, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		defer rc.Close()
	}

	sender, err := newSender(ctx, cfg.Email)
	if err != nil {
		logger.Error("email provider", "error", err)
		os.Exit(1)
	}
	parsers, err := newParsers(cfg.Email.Webhooks)
	if err != nil {
		logger.Error("webhook config", "error", err)
		os.Exit(1)
	}

	var global *ratelimit.Global
	if rc != nil && cfg.Sending.GlobalPerSecond > 0 {
		global = ratelimit.NewGlobal(rc, "campaign-send", cfg.Sending.GlobalPerSecond)
	}

	walletSvc := wallet.NewService(rp.wallet)
	campaignSvc := campaign.NewService(rp.campaigns, walletSvc, sender, campaign.Options{
		TrackingBaseURL:  cfg.Tracking.BaseURL,
		DefaultLimit:     cfg.Sending.DefaultLimit,
		MaxLimit:         cfg.Sending.MaxLimit,
		Workers:          cfg.Sending.Workers,
		Pacer:            ratelimit.NewPacer(cfg.Sending.Pace(), global),
		ClaimTTL:         cfg.Sending.ClaimTTL(),
		RecipientTimeout: cfg.Sending.RecipientTimeout(),
		DefaultPrice:     cfg.Sending.DefaultPricePerEmail,
	})

	var objects storage.ObjectGetter
	if s3o, err := storage.NewS3Objects(ctx, cfg.Storage.S3Region); err != nil {
		logger.Warn("s3 images disabled", "error", err)
	} else {
		objects = s3o
	}
	images := storage.NewFetcher(nil, objects, cfg.Storage.MaxImageBytes, cfg.Storage.FetchTimeout())

	callback := strings.TrimRight(cfg.OAuth.CallbackBaseURL, "/")
	hc := &http.Client{Timeout: 30 * time.Second}
	var providers []oauth.Provider
	publishers := map[domain.Provider]social.Publisher{}
	if cfg.OAuth.Facebook.Enabled() {
		fb := facebook.NewClient(cfg.OAuth.Facebook, callback+"/facebook/oauth/callback", hc, images)
		providers = append(providers, fb)
		publishers[domain.ProviderFacebook] = fb
	}
	if cfg.OAuth.LinkedIn.Enabled() {
		li := linkedin.NewClient(cfg.OAuth.LinkedIn, callback+"/linkedin/oauth/callback", hc, images)
		providers = append(providers, li)
		publishers[domain.ProviderLinkedIn] = li
	}
	locks := distlock.NewFactory(rc, db, cfg.OAuth.LockTTL())
	oauthSvc := oauth.NewService(rp.connections, locks, oauth.Options{
		ChangeLimit: cfg.OAuth.ChangeLimit,
		StateTTL:    cfg.OAuth.StateTTL(),
	}, providers...)

	pricing := social.Pricing{TextCost: map[domain.Provider]int64{}, ImageSurcharge: cfg.Social.ImageSurcharge}
	for name, cost := range cfg.Social.TextCost {
		pricing.TextCost[domain.Provider(name)] = cost
	}
	socialSvc := social.NewService(oauthSvc, walletSvc, pricing, publishers)

	srv := api.NewServer(api.Deps{
		Auth:           auth.NewManager(cfg.Auth),
		Campaigns:      campaignSvc,
		Wallet:         walletSvc,
		Tracking:       tracking.NewHandler(trackingsvc.NewService(rp.recipients), cfg.Tracking.FallbackURL),
		Reconciler:     delivery.NewReconciler(rp.recipients),
		Parsers:        parsers,
		OAuth:          oauthSvc,
		Social:         socialSvc,
		Health:         api.NewHealthChecker(db, rc),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AppRedirectURL: cfg.OAuth.AppRedirectURL,
	})

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("api server listening", "addr", httpSrv.Addr, "email_provider", sender.Name(), "oauth_providers", len(providers))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down api server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
