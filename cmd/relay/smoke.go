package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/doctordirect/consult-relay/internal/client"
)

func newSmokeCommand() *cobra.Command {
	var (
		opts    client.SmokeOptions
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send one message through a running relay and wait for delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			msg, err := client.Smoke(ctx, opts)
			if err != nil {
				return fmt.Errorf("smoke: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: message %s delivered to %s at %s\n", msg.ID, msg.RoomID, msg.Timestamp)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "relay websocket address")
	f.StringVar(&opts.UserID, "user", "smoke-user", "user id (trust mode)")
	f.StringVar(&opts.Role, "role", "doctor", "role (trust mode)")
	f.StringVar(&opts.Token, "token", "", "signed identity token")
	f.StringVar(&opts.RoomID, "room", "smoke", "consultation to use")
	f.StringVar(&opts.Text, "text", "smoke ping", "message content")
	f.DurationVar(&timeout, "timeout", 5*time.Second, "overall timeout")
	return cmd
}
