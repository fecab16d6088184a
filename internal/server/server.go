package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/chain"
	"github.com/FidelCoder/GlobeLinkPay/internal/config"
	"github.com/FidelCoder/GlobeLinkPay/internal/handler"
	"github.com/FidelCoder/GlobeLinkPay/internal/notify"
	"github.com/FidelCoder/GlobeLinkPay/internal/orchestrator"
	"github.com/FidelCoder/GlobeLinkPay/internal/otp"
	"github.com/FidelCoder/GlobeLinkPay/internal/pending"
	"github.com/FidelCoder/GlobeLinkPay/internal/provider/mpesa"
	"github.com/FidelCoder/GlobeLinkPay/internal/rates"
	"github.com/FidelCoder/GlobeLinkPay/internal/repository"
	"github.com/FidelCoder/GlobeLinkPay/internal/router"
)

// New wires the service together and returns the HTTP server plus a
// shutdown hook for the shared resources.
func New(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*http.Server, func(), error) {
	db, err := repository.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	accountRepo := repository.NewAccountRepository(db)
	txRepo := repository.NewTransactionRepository(db)

	oracle := rates.NewOracle(cfg.RateSourceURL, cfg.RateAPIKey, cfg.RateTTL, logger)

	gateway := mpesa.NewMpesaClient(mpesa.Options{
		BaseURL:            cfg.MpesaBaseURL,
		ConsumerKey:        cfg.MpesaConsumerKey,
		ConsumerSecret:     cfg.MpesaConsumerSecret,
		PassKey:            cfg.MpesaPassKey,
		ShortCode:          cfg.MpesaShortCode,
		B2CShortCode:       cfg.MpesaB2CShortCode,
		InitiatorName:      cfg.MpesaInitiatorName,
		SecurityCredential: cfg.MpesaSecurityCredential,
		WebhookBaseURL:     cfg.MpesaWebhookBaseURL,
		RequestTimeout:     cfg.MpesaRequestTimeout,
	}, logger)

	engine, err := chain.NewEngine(cfg.Chains, cfg.PlatformSigningKey, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init token engine: %w", err)
	}

	explorerEndpoints := make(map[string]string, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		explorerEndpoints[name] = chainCfg.ExplorerURL
	}
	explorer := chain.NewExplorer(explorerEndpoints, logger)

	smsClient := notify.NewSMSClient(cfg.SMSBaseURL, cfg.SMSAPIKey, cfg.SMSUsername, logger)
	otpStore := otp.NewRedisStore(rdb)
	pendingStore := pending.NewRedisStore(rdb)
	hub := handler.NewHub(logger)

	orch := orchestrator.New(orchestrator.Deps{
		Rates:                 oracle,
		Gateway:               gateway,
		Engine:                engine,
		Ledger:                txRepo,
		Pendings:              pendingStore,
		Notifier:              smsClient,
		Status:                hub,
		Logger:                logger,
		Chains:                cfg.Chains,
		PlatformWalletAddress: cfg.PlatformWalletAddress,
		PlatformSigningKey:    cfg.PlatformSigningKey,
	})

	paymentHandler := handler.NewPaymentHandler(
		orch, accountRepo, txRepo, engine, explorer, oracle, otpStore, smsClient, hub, logger,
	)

	r := chi.NewRouter()
	router.SetupRoutes(r, paymentHandler, cfg.JWTSecret)

	cleanup := func() {
		db.Close()
		_ = rdb.Close()
	}

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}, cleanup, nil
}
