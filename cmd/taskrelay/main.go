package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/api"
	"github.com/taskrelay-labs/taskrelay-go/internal/auditexport"
	"github.com/taskrelay-labs/taskrelay-go/internal/authorize"
	"github.com/taskrelay-labs/taskrelay-go/internal/execute"
	"github.com/taskrelay-labs/taskrelay-go/internal/gmail"
	"github.com/taskrelay-labs/taskrelay-go/internal/llm"
	"github.com/taskrelay-labs/taskrelay-go/internal/plan"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/auth"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/httpserver"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/objectstore"
	"github.com/taskrelay-labs/taskrelay-go/internal/platform/postgres"
	repopg "github.com/taskrelay-labs/taskrelay-go/internal/repo/postgres"
	"github.com/taskrelay-labs/taskrelay-go/internal/view"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("TASKRELAY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("TASKRELAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}
	headersAuth, err := auth.NewGatewayHeadersAuthenticator(authCfg)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}

	policy, err := authorize.LoadPolicy()
	if err != nil {
		logger.Error("invalid delegation policy", "error", err)
		os.Exit(2)
	}

	llmCfg, err := llm.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid llm config", "error", err)
		os.Exit(2)
	}
	llmClient, err := llm.NewAnthropicClient(llmCfg)
	if err != nil {
		logger.Error("llm client init failed", "error", err)
		os.Exit(1)
	}

	oauthCfg, err := gmail.OAuthConfigFromEnv()
	if err != nil {
		logger.Error("invalid google oauth config", "error", err)
		os.Exit(2)
	}
	tokens, err := gmail.NewStoredTokenProvider(repopg.NewOAuthAccountStore(db), oauthCfg)
	if err != nil {
		logger.Error("token provider init failed", "error", err)
		os.Exit(1)
	}
	draftsCfg, err := gmail.DraftsConfigFromEnv()
	if err != nil {
		logger.Error("invalid gmail config", "error", err)
		os.Exit(2)
	}
	drafts, err := gmail.NewDraftsClient(draftsCfg)
	if err != nil {
		logger.Error("gmail client init failed", "error", err)
		os.Exit(1)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(1)
	}
	if err := objectstore.EnsureBuckets(ctx, minioClient, storeCfg); err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	sink, err := auditexport.NewMinioSinkWithClient(minioClient, storeCfg.BucketAudit)
	if err != nil {
		logger.Error("audit sink init failed", "error", err)
		os.Exit(1)
	}

	stores := repopg.NewStores(db)
	tx := repopg.NewTxRunner(db)
	views := view.NewAssembler(stores.Requests, stores.Plans, stores.Outcomes, stores.Delegations, stores.Runs)

	plansSvc := plan.NewService(tx, views)
	authorizeSvc := authorize.New(tx, views, policy)
	executeSvc := execute.New(
		tx,
		stores,
		views,
		execute.NewDraftEmailHandler(llmClient),
		execute.NewGmailDraftHandler(llmClient, tokens, drafts),
	)
	exportSvc := auditexport.New(stores.Requests, repopg.NewActionLogStore(db), sink)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("taskrelay"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"taskrelay",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "objectstore",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, minioClient, storeCfg)
				},
			},
		),
	)

	service := api.New(logger, headersAuth, plansSvc, authorizeSvc, executeSvc, views, exportSvc)
	if service == nil {
		logger.Error("api init failed")
		os.Exit(1)
	}
	service.Register(mux)

	cfg := httpserver.Config{
		Service:         "taskrelay",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "taskrelay", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
