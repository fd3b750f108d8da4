package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/streamcart/livechat/auth"
	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/metrics"
	"github.com/streamcart/livechat/moderation"
	"github.com/streamcart/livechat/persistence"
	"github.com/streamcart/livechat/types"
	"github.com/streamcart/livechat/ws"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	store, err := persistence.NewStore(globalConfig)
	if err != nil {
		panic(err)
	}
	if store != nil {
		defer store.Close()
	} else {
		globals.AppLogger.Warn("no persistence configured, messages and bans are not durable")
	}

	resolver := auth.NewOIDCResolver(globalConfig)

	var banChecker ws.BanChecker
	if store != nil {
		banChecker = moderation.NewBanChecker(store, moderation.DefaultBanCacheTTL)
	}
	hub := ws.NewHub(globalConfig, store, banChecker)

	router := mux.NewRouter()
	router.HandleFunc("/chat", websocketHandler(hub, resolver)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if store != nil {
		gateway := moderation.NewGateway(store, resolver, auth.NewStoreOwnership(store), globalConfig.AdminUser)
		gateway.Routes(router.PathPrefix("/api").Subrouter())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if store != nil {
		sweeper := moderation.NewSweeper(store, globalConfig.SweepSpec())
		if err := sweeper.Start(); err != nil {
			panic(err)
		}
		defer sweeper.Stop()
	}

	srv := &http.Server{Addr: *addr, Handler: router}
	g.Go(func() error {
		globals.AppLogger.Info("listening", "addr", *addr)
		var err error
		if *sslCert != "" && *sslKey != "" {
			err = srv.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		globals.AppLogger.Error("stopped", "error", err)
	}
}

// websocketHandler upgrades the HTTP request and runs the connection's read/write pumps.
// An ID token in the query is verified before the upgrade; a token that fails
// verification rejects the connection outright.
func websocketHandler(hub *ws.Hub, resolver *auth.OIDCResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var identity *types.Identity
		vals := r.URL.Query()
		if idToken := vals.Get("id_token"); idToken != "" {
			var err error
			identity, err = resolver.Resolve(r.Context(), idToken, vals.Get("provider"))
			if err != nil || identity == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			globals.AppLogger.Error("websocket upgrade error", "error", err)
			return
		}

		c := ws.NewClient(hub, conn, identity)
		hub.Attach(c)
		go c.WriteLoop()
		c.ReadLoop()
	}
}
