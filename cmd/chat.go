package cmd

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

	"chatroom/pkg/attach"
	"chatroom/pkg/connectivity"
	"chatroom/pkg/locate"
	"chatroom/pkg/session"
	"chatroom/pkg/ui/chat"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const cliSessionKey = "cli:default"

var (
	chatUser    string
	chatPlain   bool
	chatMessage string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant in the terminal",
	Long: `Starts a chat session against the configured backend. On a terminal this
opens the full-screen chat; with piped input or --plain it reads one message per
line. A message given as an argument or with --message is sent once and the
command exits after the replies arrive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message := resolveMessage(args)
		interactive := message == "" && !chatPlain && isTerminal(os.Stdin) && isTerminal(os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The full-screen UI owns the terminal, so logs go nowhere unless a file is set.
		var logSink io.Writer = os.Stderr
		if interactive {
			logSink = io.Discard
		}

		a, err := newApp(ctx, "cmd.chat", logSink)
		if err != nil {
			return err
		}
		defer a.Close()

		return runChat(ctx, a, chatSurface(interactive, message, cmd.InOrStdin(), cmd.OutOrStdout()))
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "backend user id (default: remembered per session)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line mode even on a terminal")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
}

// surface drives a launched controller until the user leaves.
type surface func(ctx context.Context, c *session.Controller, info chat.Info) error

func chatSurface(interactive bool, message string, in io.Reader, out io.Writer) surface {
	switch {
	case interactive:
		return func(ctx context.Context, c *session.Controller, info chat.Info) error {
			return chat.RunInteractive(ctx, c, info)
		}
	case message != "":
		return func(ctx context.Context, c *session.Controller, info chat.Info) error {
			return chat.RunPlain(ctx, c, info, strings.NewReader(message+"\n"), out)
		}
	default:
		return func(ctx context.Context, c *session.Controller, info chat.Info) error {
			return chat.RunPlain(ctx, c, info, in, out)
		}
	}
}

func runChat(ctx context.Context, a *app, run surface) error {
	userID, err := a.resolveUser(ctx, cliSessionKey, chatUser)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	options := []session.Option{
		session.WithLogger(a.log),
		session.WithRecorder(a.recorder),
	}
	if loc := a.cfg.Session.Locate; loc.Enabled {
		options = append(options, session.WithLocateSource(locate.StaticSource{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.Accuracy,
		}))
	}

	uploads, err := attach.NewGuard(a.cfg.Session.UploadDir, int64(a.cfg.Session.MaxUploadMB)<<20)
	if err != nil {
		return fmt.Errorf("upload directory: %w", err)
	}

	opts := session.OptionsFromConfig(a.cfg, userID)
	opts.SessionKey = cliSessionKey
	controller, err := session.New(a.client, opts, options...)
	if err != nil {
		return err
	}
	defer controller.Close()

	monitor, err := connectivity.NewMonitor(a.client,
		time.Duration(a.cfg.Backend.HealthIntervalSeconds)*time.Second,
		func() []connectivity.Target { return []connectivity.Target{controller} },
		a.log,
	)
	if err != nil {
		return err
	}

	a.log.Info("Chat session starting", "user_id", userID, "host", a.cfg.Backend.Host)
	if err := controller.Launch(ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		a.log.Warn("Start message failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	surfaceCtx, leave := context.WithCancel(gctx)
	defer leave()

	g.Go(func() error {
		return monitor.Run(surfaceCtx)
	})
	g.Go(func() error {
		defer leave()
		return run(surfaceCtx, controller, chat.Info{UserID: userID, Host: a.cfg.Backend.Host, Uploads: uploads})
	})

	return g.Wait()
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(chatMessage); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
