package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edupinhata/naval-gunbound-war/internal/config"
)

func Main() {
	if err := newRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var cfgPath string
	var server string

	root := &cobra.Command{
		Use:          "relay",
		Short:        "Relay client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&server, "server", "", "relayd base URL (default http://<api.listen>)")

	client := func() (*Client, error) {
		if server != "" {
			return NewClient(server, nil), nil
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		return NewClient("http://"+cfg.API.Listen, nil), nil
	}

	root.AddCommand(tokenCmd(client))
	root.AddCommand(listenCmd(client))
	root.AddCommand(sendCmd(client))
	root.AddCommand(deleteCmd(client))
	root.AddCommand(eventsCmd(&cfgPath))
	return root
}

type clientFunc func() (*Client, error)

func tokenCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Register and print this machine's token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tok, created, err := c.Token(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			if !created {
				fmt.Fprintln(cmd.ErrOrStderr(), "(token already registered)")
			}
			return nil
		},
	}
}

func listenCmd(client clientFunc) *cobra.Command {
	var tok string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every broadcast until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return c.Listen(ctx, tok, func(msg []byte) {
				_, _ = out.Write(msg)
				_, _ = out.Write([]byte{'\n'})
			})
		},
	}
	cmd.Flags().StringVar(&tok, "token", "", "token from `relay token`")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func sendCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "send MESSAGE... | send -",
		Short: "Broadcast a message to every listener (- reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var msg []byte
			if len(args) == 1 && args[0] == "-" {
				msg, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			} else {
				msg = []byte(strings.Join(args, " "))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rep, err := c.Send(ctx, msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "clients=%d delivered=%d pruned=%d\n", rep.Clients, rep.Delivered, rep.Pruned)
			return nil
		},
	}
}

func deleteCmd(client clientFunc) *cobra.Command {
	var tok string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Deregister a token and close its streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := c.Delete(ctx, tok); err != nil {
				if errors.Is(err, ErrUnknownToken) {
					return fmt.Errorf("%s: %w", tok, err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&tok, "token", "", "token to deregister")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
