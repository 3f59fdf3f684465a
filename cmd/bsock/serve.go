package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcoin-org/bsock/metrics"
	"github.com/bcoin-org/bsock/middleware"
	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/server"
	"github.com/bcoin-org/bsock/socket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		Long: `Run a server answering the "echo" hook with its payload.

Sessions join and leave channels by firing "join" and "leave" with the
channel name. Over ws, firing "publish" relays the remaining arguments as
a "message" event to the channel named by the first argument.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg

	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))

	opts := []server.Option{
		server.WithLogger(c.logger),
		server.WithMetrics(m),
		server.WithSocketOptions(cfg.SocketOptions()...),
	}

	if len(cfg.Etcd) > 0 {
		ereg, err := registry.NewEtcdRegistry(cfg.Etcd)
		if err != nil {
			return err
		}
		defer ereg.Close()

		advertise := cfg.Advertise
		if advertise == "" {
			advertise = cfg.Listen
		}
		opts = append(opts, server.WithRegistry(ereg, cfg.Service, registry.ServiceInstance{
			Addr:   advertise,
			Weight: 1,
		}))
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	switch cfg.Protocol {
	case "ws":
		// The router is the HTTP handler; srv is mounted on it below.
		router := newRouter(metricsHandler)
		srv := server.NewWebSocket(append(opts, server.WithHTTPHandler(router))...)
		router.Handle(cfg.Path+"*", srv)
		srv.Use(hookMiddleware[[]any](c, m)...)
		srv.OnSocket(bindMessage(srv))
		err = srv.Serve(ctx, ln)
	default:
		srv := server.NewTCP(opts...)
		srv.Use(hookMiddleware[[]byte](c, m)...)
		srv.OnSocket(bindStream)
		go c.serveMetrics(ctx, metricsHandler)
		err = srv.Serve(ctx, ln)
	}

	if err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func newRouter(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metricsHandler)
	return r
}

// serveMetrics exposes /metrics next to a TCP server.
func (c *cli) serveMetrics(ctx context.Context, metricsHandler http.Handler) {
	if c.cfg.MetricsListen == "" {
		return
	}
	srv := &http.Server{
		Addr:              c.cfg.MetricsListen,
		Handler:           newRouter(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.logger.Error("metrics server failed", "err", err.Error())
	}
}

func hookMiddleware[P any](c *cli, m *metrics.Metrics) []middleware.Middleware[P] {
	hooks := c.cfg.Hooks
	mws := []middleware.Middleware[P]{
		middleware.Tracing[P]("github.com/bcoin-org/bsock"),
		middleware.Logging[P](c.logger),
		middleware.Metrics[P](m),
	}
	if hooks.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit[P](hooks.RateLimit, hooks.RateBurst))
	}
	if hooks.Timeout > 0 {
		mws = append(mws, middleware.Timeout[P](hooks.Timeout))
	}
	return mws
}

func bindStream(sock *socket.StreamSocket) {
	sock.Hook("echo", func(ctx context.Context, p []byte) ([]byte, error) {
		return p, nil
	})
	sock.Listen("join", func(p []byte) {
		sock.Join(string(p))
	})
	sock.Listen("leave", func(p []byte) {
		sock.Leave(string(p))
	})
}

func bindMessage(srv *server.Server[[]any]) func(*socket.MessageSocket) {
	return func(sock *socket.MessageSocket) {
		sock.Hook("echo", func(ctx context.Context, args []any) ([]any, error) {
			return args, nil
		})
		sock.Listen("join", func(args []any) {
			if name, ok := firstString(args); ok {
				sock.Join(name)
			}
		})
		sock.Listen("leave", func(args []any) {
			if name, ok := firstString(args); ok {
				sock.Leave(name)
			}
		})
		sock.Listen("publish", func(args []any) {
			if name, ok := firstString(args); ok {
				srv.To(name, "message", args[1:])
			}
		})
	}
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
