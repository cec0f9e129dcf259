package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatroom/pkg/delivery"
	"chatroom/pkg/history"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	trackerUser     string
	trackerFormat   string
	trackerWatch    bool
	trackerInterval time.Duration
	trackerMessages bool
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Print the backend conversation tracker",
	Long:  "Fetches the conversation tracker the backend keeps for a user and prints it as YAML or JSON, or only the recovered messages with --messages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "cmd.tracker", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.resolveUser(ctx, cliSessionKey, trackerUser)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}

		out := cmd.OutOrStdout()
		fetch := func() error {
			tracker, err := a.client.FetchTracker(ctx, a.cfg.Backend.Host, userID)
			if err != nil {
				return err
			}
			if trackerMessages {
				return writeDocument(out, trackerFormat, history.Extract(tracker))
			}
			return writeDocument(out, trackerFormat, tracker)
		}

		if err := fetch(); err != nil || !trackerWatch {
			return err
		}

		return delivery.Run(ctx, trackerInterval, func() {
			fmt.Fprintln(out, "---")
			if err := fetch(); err != nil {
				a.log.Error("Couldn't fetch tracker", "error", err)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(trackerCmd)
	trackerCmd.Flags().StringVarP(&trackerUser, "user", "u", "", "backend user id (default: remembered cli user)")
	trackerCmd.Flags().StringVarP(&trackerFormat, "format", "o", "yaml", "output format: yaml or json")
	trackerCmd.Flags().BoolVarP(&trackerWatch, "watch", "w", false, "keep printing the tracker")
	trackerCmd.Flags().DurationVar(&trackerInterval, "interval", 5*time.Second, "refresh interval with --watch")
	trackerCmd.Flags().BoolVar(&trackerMessages, "messages", false, "print recovered timeline entries instead of raw events")
}

// writeDocument prints v in format. YAML goes through JSON first so keys
// match the wire names.
func writeDocument(out io.Writer, format string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		var pretty any
		if err := json.Unmarshal(raw, &pretty); err != nil {
			return err
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(pretty)
	case "", "yaml", "yml":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(doc); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

