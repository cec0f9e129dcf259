package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatroom/pkg/backend"
	"chatroom/pkg/session"

	"github.com/spf13/cobra"
)

var (
	eventsUser   string
	eventsFormat string
)

var eventsCmd = &cobra.Command{
	Use:   "events [json]",
	Short: "Append raw events to the backend tracker",
	Long: `Appends events to the user's conversation tracker and prints the updated
tracker. Events are a JSON array, or a single JSON object, given as an argument
or on stdin, for example '[{"event":"slot","name":"city","value":"Oulu"}]'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			input = strings.NewReader(args[0])
		}
		events, err := parseEvents(input)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "cmd.events", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.resolveUser(ctx, cliSessionKey, eventsUser)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}

		opts := session.OptionsFromConfig(a.cfg, userID)
		opts.SessionKey = cliSessionKey
		controller, err := session.New(a.client, opts, session.WithLogger(a.log), session.WithRecorder(a.recorder))
		if err != nil {
			return err
		}
		defer controller.Close()

		tracker, err := controller.AddEvents(ctx, events)
		if err != nil {
			return err
		}

		return writeDocument(cmd.OutOrStdout(), eventsFormat, tracker)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVarP(&eventsUser, "user", "u", "", "backend user id (default: remembered cli user)")
	eventsCmd.Flags().StringVarP(&eventsFormat, "format", "o", "yaml", "output format: yaml or json")
}

func parseEvents(input io.Reader) ([]backend.Event, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, fmt.Errorf("no events given")
	}

	if raw[0] == '{' {
		var event backend.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		return []backend.Event{event}, nil
	}

	var events []backend.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	for i, event := range events {
		if _, ok := event["event"]; !ok {
			return nil, fmt.Errorf("event %d has no \"event\" field", i)
		}
	}
	return events, nil
}
