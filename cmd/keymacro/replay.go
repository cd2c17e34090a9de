package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core"
	"github.com/sammwyy/keymacro/core/capture"
	"github.com/sammwyy/keymacro/core/eventbus"
	"github.com/spf13/cobra"
)

// replayResult is one replayed event and what the chain did with it
type replayResult struct {
	Event    api.Event           `json:"event" yaml:"event"`
	Outcome  string              `json:"outcome" yaml:"outcome"`
	Injected []eventbus.Injected `json:"injected,omitempty" yaml:"injected,omitempty"`
}

// collector keeps the events synthesized for one replayed event
type collector struct {
	events []eventbus.Injected
}

func (c *collector) SendFlagsChanged(flags uint64) error {
	c.events = append(c.events, eventbus.Injected{Type: api.EventFlagsChanged, Flags: flags})
	return nil
}

func (c *collector) SendKeyboardEvent(keycode int64, flags uint64, down bool) error {
	eventType := api.EventKeyUp
	if down {
		eventType = api.EventKeyDown
	}
	c.events = append(c.events, eventbus.Injected{Type: eventType, Keycode: keycode, Flags: flags, Down: down})
	return nil
}

// replayCmd feeds a keyboard capture through the plugin chain.
var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Replay a usbmon keyboard capture through the plugins",
	Long: `Decode the HID boot keyboard reports of a usbmon capture and dispatch
them through the built-in and script plugins, printing each outcome and the
events the plugins synthesized.`,
	Example: `  # Record a keyboard on bus 1 and replay it
  tcpdump -i usbmon1 -w typing.pcap
  keymacro replay typing.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		daemon, err := core.NewDaemon(configPath)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}
		if err := daemon.Setup(); err != nil {
			return err
		}

		events, err := capture.ReadFile(args[0], api.NewLogger("capture"))
		if err != nil {
			return err
		}

		results := make([]replayResult, 0, len(events))
		for _, event := range events {
			out := &collector{}
			outcome := daemon.HandleEvent(event, out)
			results = append(results, replayResult{Event: event, Outcome: outcome.String(), Injected: out.events})
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

func printResults(w io.Writer, results []replayResult) error {
	switch output {
	case jsonFormat:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintln(w, string(data))
	case yamlFormat:
		data, err := yaml.Marshal(results)
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprint(w, string(data))
	default:
		for _, r := range results {
			fmt.Fprintf(w, "%-32s %s\n", r.Event, r.Outcome)
			for _, injected := range r.Injected {
				fmt.Fprintf(w, "  + %s keycode=%d flags=%#x\n", injected.Type, injected.Keycode, injected.Flags)
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
