package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bcoin-org/bsock/client"
	"github.com/bcoin-org/bsock/loadbalance"
	"github.com/bcoin-org/bsock/registry"
	"github.com/bcoin-org/bsock/socket"
	"github.com/spf13/cobra"
)

func callCmd(c *cli) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <name> [args...]",
		Short: "Call a remote hook and print the result",
		Long: `Call a remote hook and print the result.

Over tcp the first argument is sent as raw bytes. Over ws every argument
is decoded as JSON when it is valid JSON and sent as a string otherwise.
Without --addr the target is discovered through etcd.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.call(ctx, cmd.OutOrStdout(), args[0], args[1:], false)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "overall timeout")
	return cmd
}

func fireCmd(c *cli) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "fire <name> [args...]",
		Short: "Fire an event at a remote session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.call(ctx, cmd.OutOrStdout(), args[0], args[1:], true)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "overall timeout")
	return cmd
}

func (c *cli) call(ctx context.Context, out io.Writer, name string, args []string, fire bool) error {
	if c.cfg.Protocol == "ws" {
		return c.callMessage(ctx, out, name, args, fire)
	}
	return c.callStream(ctx, out, name, args, fire)
}

func (c *cli) callStream(ctx context.Context, out io.Writer, name string, args []string, fire bool) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	defer reg.Close()

	bal, err := loadbalance.New(c.cfg.Balancer)
	if err != nil {
		return err
	}

	cl := client.New(reg, c.cfg.Service,
		client.WithLogger(c.logger),
		client.WithBalancer(bal),
		client.WithSocketOptions(c.cfg.SocketOptions()...),
	)
	defer cl.Close()

	var payload []byte
	if len(args) > 0 {
		payload = []byte(args[0])
	}

	if fire {
		return cl.Fire(ctx, name, payload)
	}

	resp, err := cl.Call(ctx, name, payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", resp)
	return err
}

// registry returns the etcd registry, or a static one pointing at the
// address flag.
func (c *cli) registry() (registry.Registry, error) {
	if c.listen == "" && len(c.cfg.Etcd) > 0 {
		return registry.NewEtcdRegistry(c.cfg.Etcd)
	}
	return registry.NewStatic(c.cfg.Service, registry.ServiceInstance{
		Addr:      c.cfg.Listen,
		Transport: "tcp",
	}), nil
}

func (c *cli) callMessage(ctx context.Context, out io.Writer, name string, args []string, fire bool) error {
	url := fmt.Sprintf("ws://%s%s?EIO=3&transport=websocket", c.cfg.Listen, c.cfg.Path)

	opts := append([]socket.Option{socket.WithLogger(c.logger)}, c.cfg.SocketOptions()...)
	sock := socket.DialWebSocket(url, nil, opts...)
	defer sock.Destroy()

	if err := sock.WaitOpen(ctx); err != nil {
		return err
	}

	payload := parseArgs(args)
	if fire {
		return sock.Fire(name, payload)
	}

	resp, err := sock.Call(ctx, name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		out = append(out, v)
	}
	return out
}
