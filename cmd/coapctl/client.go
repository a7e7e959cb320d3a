package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/options"
	"github.com/plgd-dev/go-coap-engine/udp"
	"github.com/spf13/cobra"
)

var (
	timeout       time.Duration
	data          string
	contentFormat uint16
)

// withClient runs f with an endpoint bound to an ephemeral port.
func withClient(cmd *cobra.Command, f func(ctx context.Context, ep *udp.Endpoint) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ep, err := udp.NewEndpoint(udp.DefaultConfig,
		options.WithAddress("udp", ":0"),
		options.WithConfig(protoCfg),
		options.WithLoggerFactory(loggerFactory),
		options.WithErrors(func(err error) {
			cmd.PrintErrln(err)
		}),
	)
	if err != nil {
		return err
	}
	served := make(chan error, 1)
	go func() {
		served <- ep.Serve(ctx)
	}()
	err = f(ctx, ep)
	if cerr := ep.Close(); err == nil {
		err = cerr
	}
	if serr := <-served; err == nil {
		err = serr
	}
	return err
}

func resolve(addr string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %v: %w", addr, err)
	}
	return raddr, nil
}

func printResponse(w io.Writer, resp *exchange.Message) {
	fmt.Fprintf(w, "%v %v\n", resp.Code.Dotted(), resp.Code)
	if len(resp.Payload) > 0 {
		fmt.Fprintf(w, "%s\n", resp.Payload)
	}
}

var getCmd = &cobra.Command{
	Use:   "get <host:port> <path>",
	Short: "Retrieve a resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raddr, err := resolve(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, ep *udp.Endpoint) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			resp, err := ep.Get(ctx, raddr, args[1])
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		})
	},
}

var postCmd = &cobra.Command{
	Use:   "post <host:port> <path>",
	Short: "Send data to a resource, read from stdin without --data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raddr, err := resolve(args[0])
		if err != nil {
			return err
		}
		payload := []byte(data)
		if !cmd.Flags().Changed("data") {
			payload, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("cannot read stdin: %w", err)
			}
		}
		return withClient(cmd, func(ctx context.Context, ep *udp.Endpoint) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			resp, err := ep.Post(ctx, raddr, args[1], message.MediaType(contentFormat), payload)
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		})
	},
}

var observeCmd = &cobra.Command{
	Use:   "observe <host:port> <path>",
	Short: "Print the notifications of a resource until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raddr, err := resolve(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, ep *udp.Endpoint) error {
			req, err := udp.NewRequest(codes.GET, raddr, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ex, err := ep.Observe(req, func(_ *exchange.Exchange, resp *exchange.Message) {
				printResponse(out, resp)
			})
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ep.Cancel(ex)
			case <-ex.Done():
				if ex.IsFailed() {
					return ex.Err()
				}
				return nil
			}
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping <host:port>",
	Short: "Check that a CoAP endpoint is alive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raddr, err := resolve(args[0])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, ep *udp.Endpoint) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			if err := ep.Ping(ctx, raddr); err != nil {
				return err
			}
			cmd.Printf("pong from %v in %v\n", raddr, time.Since(start))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{getCmd, postCmd, pingCmd} {
		c.Flags().DurationVarP(&timeout, "timeout", "t", time.Minute, "time to wait for the response")
		rootCmd.AddCommand(c)
	}
	postCmd.Flags().StringVarP(&data, "data", "d", "", "payload of the request")
	postCmd.Flags().Uint16Var(&contentFormat, "content-format", uint16(message.TextPlain), "content format of the payload")
	rootCmd.AddCommand(observeCmd)
}
