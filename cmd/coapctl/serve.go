package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/units"
	"github.com/plgd-dev/go-coap-engine/options"
	"github.com/plgd-dev/go-coap-engine/udp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr      string
	metricsAddr    string
	notifyInterval time.Duration
	largeSize      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the /echo, /large and /time resources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		size, err := units.ParseBase2Bytes(largeSize)
		if err != nil {
			return fmt.Errorf("invalid --large-size: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		res := newResources(loggerFactory, int(size))
		ep, err := udp.NewEndpoint(udp.DefaultConfig,
			options.WithAddress("udp", serveAddr),
			options.WithConfig(protoCfg),
			options.WithLoggerFactory(loggerFactory),
			options.WithHandlerFunc(res.handle),
			options.WithMetrics(reg, "coap"),
			options.WithErrors(func(err error) {
				cmd.PrintErrln(err)
			}),
		)
		if err != nil {
			return err
		}
		res.bind(ep)
		cmd.Printf("serving on %v\n", ep.LocalAddr())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return ep.Serve(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			return ep.Close()
		})
		g.Go(func() error {
			res.notify(ctx, notifyInterval)
			return nil
		})
		if metricsAddr != "" {
			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				return srv.Shutdown(context.Background())
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":5683", "UDP address to listen on")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP address of the prometheus metrics, empty disables them")
	serveCmd.Flags().DurationVar(&notifyInterval, "notify-interval", time.Second, "period of the /time notifications")
	serveCmd.Flags().StringVar(&largeSize, "large-size", "4KiB", "size of the /large resource")
	rootCmd.AddCommand(serveCmd)
}
