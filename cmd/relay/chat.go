package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/doctordirect/consult-relay/internal/client"
	"github.com/doctordirect/consult-relay/internal/proto"
)

type chatOptions struct {
	url   string
	user  string
	name  string
	role  string
	token string
	room  string
}

func newChatCommand() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive consultation client",
		Long: `Join a consultation and chat from the terminal.

Lines are sent as messages. Commands:
  /status <waiting|in_progress|completed|cancelled>
  /read <message id>
  /typing`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "relay websocket address")
	f.StringVar(&opts.user, "user", "cli-user", "user id (trust mode)")
	f.StringVar(&opts.name, "name", "", "display name (trust mode)")
	f.StringVar(&opts.role, "role", "patient", "role (trust mode)")
	f.StringVar(&opts.token, "token", "", "signed identity token")
	f.StringVar(&opts.room, "room", "general", "consultation to join")
	return cmd
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := client.Dial(ctx, opts.url)
	if err != nil {
		return err
	}
	defer c.Close()

	user, err := c.Authenticate(ctx, proto.AuthenticateData{
		UserID:      opts.user,
		DisplayName: opts.name,
		Role:        opts.role,
		Token:       opts.token,
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	joined, err := c.Join(ctx, opts.room)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	fmt.Fprintf(out, "Connected to %s as %s (%s) in %s, %d online\n", opts.url, user.UserID, user.Role, joined.RoomID, len(joined.Participants))
	fmt.Fprintln(out, "Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, c, out)
	}()

	return writeLoop(ctx, c, opts.room, in, out)
}

func readLoop(ctx context.Context, c *client.Client, out io.Writer) {
	for {
		frame, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			fmt.Fprintf(out, "read error: %v\n", err)
			return
		}
		fmt.Fprintln(out, client.Format(frame))
	}
}

func writeLoop(ctx context.Context, c *client.Client, room string, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			typ, data, err := parseChatLine(room, text)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if err := c.Send(ctx, typ, data); err != nil {
				return err
			}
		}
	}
}

// parseChatLine turns one input line into an inbound frame.
func parseChatLine(room, line string) (string, any, error) {
	if !strings.HasPrefix(line, "/") {
		return proto.InboundTypeSendMessage, proto.SendMessageData{RoomID: room, Content: line}, nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "typing":
		return proto.InboundTypeTypingStart, proto.RoomData{RoomID: room}, nil
	case "read":
		if arg == "" {
			return "", nil, errors.New("usage: /read <message id>")
		}
		return proto.InboundTypeMarkRead, proto.MarkReadData{RoomID: room, MessageID: arg}, nil
	case "status":
		if arg == "" {
			return "", nil, errors.New("usage: /status <status>")
		}
		return proto.InboundTypeUpdateStatus, proto.UpdateStatusData{RoomID: room, Status: arg}, nil
	default:
		return "", nil, fmt.Errorf("unknown command /%s", cmd)
	}
}
