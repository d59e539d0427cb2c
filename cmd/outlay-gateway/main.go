package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outlay-dev/outlay/internal/approval"
	"github.com/outlay-dev/outlay/internal/compliance"
	"github.com/outlay-dev/outlay/internal/config"
	"github.com/outlay-dev/outlay/internal/counters"
	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/gateway"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/ledger/pgstore"
	"github.com/outlay-dev/outlay/internal/ledger/sqlstore"
	"github.com/outlay-dev/outlay/internal/policy"
	"github.com/outlay-dev/outlay/internal/rail"
	"github.com/outlay-dev/outlay/internal/ratelimit"
	"github.com/outlay-dev/outlay/internal/router"
	"github.com/outlay-dev/outlay/internal/trust"
	"github.com/outlay-dev/outlay/internal/webhook"
)

const ledgerShard = "main"

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

func run(args []string, getenv envFn, listen listenFn) error {
	fs := flag.NewFlagSet("outlay-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to outlay config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := firstNonEmpty(*configPath, getenv("OUTLAY_CONFIG_PATH"))
	if cfgFile == "" {
		return errors.New("missing --config or OUTLAY_CONFIG_PATH")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	addr := firstNonEmpty(getenv("OUTLAY_LISTEN_ADDR"), cfg.ListenAddr, ":8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, cleanup, err := newServer(ctx, cfg, addr, getenv("OUTLAY_OPERATOR_TOKEN"))
	if err != nil {
		return err
	}
	defer cleanup()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("outlay-gateway listening on %s", addr)
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newServer(ctx context.Context, cfg config.Config, addr, operatorToken string) (*http.Server, func(), error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	store, closeStore, err := openStore(cfg.DB)
	if err != nil {
		return nil, cleanup, err
	}
	cleanups = append(cleanups, closeStore)

	writer, err := ledger.NewWriter(store, ledgerShard)
	if err != nil {
		return nil, cleanup, fmt.Errorf("open ledger shard: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanups = append(cleanups, func() { _ = rdb.Close() })
	}

	var counterStore counters.Store = counters.NewMemoryStore()
	if rdb != nil {
		// Month counters must outlive the longest rolling window.
		counterStore = counters.NewRedisStore(rdb, 35*24*time.Hour)
	}

	custodyPriv, _, err := crypto.LoadEd25519PrivateKey(cfg.Custody.PrivateKeyPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("load custody key: %w", err)
	}
	signer := &custody.KeySigner{ID: cfg.Custody.KeyID, PrivateKey: custodyPriv}

	monitor := custody.NewMonitor(healthProbe(cfg.Custody.ProbeURL))
	if cfg.Custody.ProbeURL != "" {
		go monitor.Run(ctx, cfg.Custody.ProbeInterval)
	}

	evidencePriv, _, err := crypto.LoadEd25519PrivateKey(cfg.Evidence.PrivateKeyPath)
	if err != nil {
		return nil, cleanup, fmt.Errorf("load evidence key: %w", err)
	}

	rails, err := buildRails(ctx, cfg.Rails)
	if err != nil {
		return nil, cleanup, err
	}

	svc := &gateway.Service{
		Store:  store,
		Writer: writer,
		Shard:  ledgerShard,
		Compiler: &policy.Compiler{
			SystemCeilings: policy.Ceilings{
				PerTxCents:   cfg.Policy.CeilingPerTxCents,
				DailyCents:   cfg.Policy.CeilingDailyCents,
				MonthlyCents: cfg.Policy.CeilingMonthlyCents,
			},
		},
		Limiter:       ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window, rdb, logger),
		Gate:          &compliance.Gate{},
		Counters:      counterStore,
		Trust:         &trust.Graph{Store: store, Writer: writer, RequireApproval: cfg.Trust.RequireApproval},
		Custody:       monitor,
		Router:        router.New(store, writer, signer, rails, logger),
		Evidence:      &evidenceSigner{id: cfg.Evidence.KeyID, priv: evidencePriv},
		Cursor:        ledger.CursorCodec{Secret: []byte(cfg.Evidence.CursorSecret)},
		ApprovalTTL:   cfg.Approvals.TTL,
		DefaultQuorum: cfg.Approvals.DefaultQuorum,
		Reviewers:     cfg.Approvals.Reviewers,
		Logger:        logger,
	}

	if cfg.Policy.OverridePublicKeyPath != "" {
		pub, err := crypto.LoadEd25519PublicKey(cfg.Policy.OverridePublicKeyPath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("load override key: %w", err)
		}
		svc.Compiler.OverrideKey = pub
	}

	if cfg.AMQP.URL != "" {
		pub, err := approval.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, cleanup, fmt.Errorf("dial amqp: %w", err)
		}
		cleanups = append(cleanups, func() { _ = pub.Close() })
		go approval.RunOutboxWorker(ctx, store, pub, 2*time.Second)
	}

	go runExpirySweeper(ctx, svc)

	var replayCache webhook.ReplayCache = webhook.NewMemoryCache(cfg.Webhooks.ReplayTTL)
	if rdb != nil {
		replayCache = webhook.NewRedisCache(rdb, cfg.Webhooks.ReplayTTL)
	}
	secrets := make(map[string][]byte, len(cfg.Webhooks.Secrets))
	for name, secret := range cfg.Webhooks.Secrets {
		secrets[name] = []byte(secret)
	}

	agents := make(map[string]string, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a.Token] = a.AgentID
	}

	h := &gateway.Handler{
		Auth:     &gateway.TokenAuthenticator{Agents: agents, OperatorToken: operatorToken},
		Service:  svc,
		Webhooks: &webhook.Receiver{Secrets: secrets, Cache: replayCache},
	}

	return &http.Server{
		Addr:              addr,
		Handler:           gateway.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, cleanup, nil
}

func openStore(cfg config.DBConfig) (ledger.Store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	case "sqlite":
		st, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		if err := ledger.Migrate(st.DB(), ledger.DBSQLite); err != nil {
			_ = st.Close()
			return nil, func() {}, err
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		st, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		if err := ledger.Migrate(st.DB(), ledger.DBPostgres); err != nil {
			_ = st.Close()
			return nil, func() {}, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func buildRails(ctx context.Context, configs []config.RailConfig) ([]rail.Rail, error) {
	rails := make([]rail.Rail, 0, len(configs))
	for _, rc := range configs {
		switch rc.Kind {
		case "http":
			rails = append(rails, rail.NewHTTPRail(rc.Name, rc.BaseURL, rc.Token, rc.SLA))
		case "onchain":
			r, err := rail.DialOnchain(ctx, rc.Name, rc.RPCURL)
			if err != nil {
				return nil, fmt.Errorf("dial rail %s: %w", rc.Name, err)
			}
			rails = append(rails, r)
		case "stub":
			rails = append(rails, rail.NewStub(rc.Name))
		default:
			return nil, fmt.Errorf("unknown rail kind %q", rc.Kind)
		}
	}
	return rails, nil
}

// healthProbe reports custody collaborator health via its status endpoint.
func healthProbe(url string) custody.HealthFunc {
	if url == "" {
		return func(ctx context.Context) error { return nil }
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("custody probe status %d", resp.StatusCode)
		}
		return nil
	}
}

func runExpirySweeper(ctx context.Context, svc *gateway.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireApprovals(ctx); err != nil && ctx.Err() == nil {
				log.Printf("approval expiry sweep: %v", err)
			}
		}
	}
}

type evidenceSigner struct {
	id   string
	priv ed25519.PrivateKey
}

func (s *evidenceSigner) KeyID() string { return s.id }

func (s *evidenceSigner) SignEd25519(digest []byte) ([]byte, error) {
	return crypto.SignEd25519(s.priv, digest)
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
