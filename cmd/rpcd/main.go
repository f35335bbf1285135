// rpcd serves the demo functions or calls them.
//
//	rpcd --role server --config rpcd.yaml
//	rpcd --role client --addr 127.0.0.1:5555
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reqrep-rpc/config"
	"reqrep-rpc/log"
	"reqrep-rpc/message"
	"reqrep-rpc/metrics"
	"reqrep-rpc/registry"
	"reqrep-rpc/retry"
	"reqrep-rpc/rpc"
	"reqrep-rpc/transport"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "YAML or JSON config file")
		role       = pflag.StringP("role", "r", "server", "server or client")
		addr       = pflag.String("addr", "", "client: server address, overrides client.addr")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Client.Addr = *addr
	}
	if err := log.Setup(&cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *role {
	case "server":
		err = runServers(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}
	if err != nil {
		log.Error("rpcd exited", zap.String("role", *role), zap.Error(err))
		os.Exit(1)
	}
}

func openRegistry(cfg *config.Config) (registry.Registry, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return nil, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	if addr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runServers runs one facade per listen address. Each facade serves one request
// at a time; separate addresses serve in parallel.
func runServers(ctx context.Context, cfg *config.Config) error {
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	serveMetrics(ctx, g, cfg.Metrics.Addr)

	for _, addr := range cfg.Server.Addrs {
		opts := []rpc.Option{
			rpc.WithTransportConfig(cfg.Transport),
			rpc.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		}
		if reg != nil {
			opts = append(opts, rpc.WithRegistry(reg, cfg.Server.ServiceName, cfg.Server.AdvertiseAddr, cfg.Registry.TTL))
		}
		r := rpc.New(opts...)
		if err := bindDemo(r); err != nil {
			return err
		}
		if err := r.AsServer(addr); err != nil {
			return err
		}
		g.Go(func() error {
			err := r.Run(ctx)
			if errors.Is(err, transport.ErrClosed) && ctx.Err() != nil {
				// stopped before the loop got going
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return r.Close()
		})
	}
	return g.Wait()
}

func runClient(ctx context.Context, cfg *config.Config) error {
	opts := []rpc.Option{
		rpc.WithTransportConfig(cfg.Transport),
		rpc.WithTimeout(cfg.Client.Timeout),
	}
	var r *rpc.RPC
	if cfg.Client.Addr != "" {
		r = rpc.New(opts...)
		if err := r.AsClient(ctx, cfg.Client.Addr); err != nil {
			return err
		}
	} else {
		reg, err := openRegistry(cfg)
		if err != nil {
			return err
		}
		if reg == nil {
			return fmt.Errorf("client.addr and registry.endpoints are both empty")
		}
		defer reg.Close()
		r = rpc.New(append(opts, rpc.WithRegistry(reg, cfg.Client.ServiceName, "", 0))...)
		if err := r.AsDiscoveredClient(ctx); err != nil {
			return err
		}
	}
	defer r.Close()

	sum, err := retry.Call[int](ctx, r, cfg.Retry, "add", 2, 3)
	if err != nil {
		return err
	}
	report("add(2, 3)", sum)

	greeting, err := retry.Call[string](ctx, r, cfg.Retry, "greet", "rpcd")
	if err != nil {
		return err
	}
	report(`greet("rpcd")`, greeting)

	missing, err := rpc.Call[int](ctx, r, "mul", 2, 3)
	if err != nil {
		return err
	}
	report("mul(2, 3)", missing)
	return nil
}

func report[R any](call string, v message.Value[R]) {
	if !v.Valid() {
		log.Warn("call failed", zap.String("call", call), log.FieldCode(v.ErrorCode()), zap.String("msg", v.ErrorMsg()))
		return
	}
	log.Info("call ok", zap.String("call", call), zap.Any("result", v.Val()))
}
