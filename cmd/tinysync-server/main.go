package main

import (
	"context"
	"flag"
	"net/http"
	"tinysync-backend/lib/configutil"
	"tinysync-backend/lib/scrapers/tiny/auth"
	"tinysync-backend/lib/scrapers/tiny/erp"
	"tinysync-backend/lib/scrapers/tiny/rpc"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/lib/serviceutil"
	"tinysync-backend/lib/sqliteutil"
	"tinysync-backend/lib/telemetry"
	"tinysync-backend/services/keychain"
	keychaindb "tinysync-backend/services/keychain/db"
	"tinysync-backend/services/pricesync"
	pricesyncdb "tinysync-backend/services/pricesync/db"
)

type Config struct {
	// sqlite paths (or libsql:// urls)
	KeychainDB  string `json:"keychain_db"`
	PricesyncDB string `json:"pricesync_db"`

	// ERP web application base url, defaults to the production one
	ErpBaseURL string `json:"erp_base_url"`
	// identity provider authorize url override
	AuthorizeURL string `json:"authorize_url"`
	// public API base url override
	ApiBaseURL string `json:"api_base_url"`

	// rpc throttle, requests per second
	RequestsPerSecond float64 `json:"requests_per_second"`

	Port int `json:"port"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)
	t, err := telemetry.SetupFromEnv(ctx, "tinysync-server")
	if err != nil {
		serviceutil.Fatal("init telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.ErpBaseURL == "" {
		cfg.ErpBaseURL = "https://erp.tiny.com.br/"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}

	keychainDB, err := sqliteutil.OpenDB(keychaindb.Schema, cfg.KeychainDB)
	if err != nil {
		serviceutil.Fatal("open keychain db", err)
	}
	pricesyncDB, err := sqliteutil.OpenDB(pricesyncdb.Schema, cfg.PricesyncDB)
	if err != nil {
		serviceutil.Fatal("open pricesync db", err)
	}

	sessions := session.NewStore(session.Options{})
	rpcClient, err := rpc.NewClient(rpc.Options{
		BaseURL:           cfg.ErpBaseURL,
		Sessions:          sessions,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		serviceutil.Fatal("init rpc client", err)
	}
	flow := auth.NewFlow(auth.Options{
		AuthorizeURL: cfg.AuthorizeURL,
		Rpc:          rpcClient,
	})
	sessions.BindLogin(flow.Login)

	mux := http.NewServeMux()
	sync := pricesync.NewService(pricesync.Options{
		DB:         pricesyncDB,
		Erp:        erp.NewClient(rpcClient),
		Sessions:   sessions,
		Keychain:   keychain.NewService(keychainDB),
		ApiBaseURL: cfg.ApiBaseURL,
	})
	sync.RegisterRoutes(mux)

	go serviceutil.StartHttpServer(cfg.Port, mux)
	<-ctx.Done()
}
