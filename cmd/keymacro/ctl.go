package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/config"
	"github.com/sammwyy/keymacro/core/eventbus"
	"github.com/sammwyy/keymacro/core/hotkey"
	"github.com/spf13/cobra"
)

var (
	socketPath string
	timeout    time.Duration
)

// ctlCmd groups the requests sent to a running daemon.
var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running daemon",
}

var reloadConfigCmd = &cobra.Command{
	Use:   "reload-config",
	Short: "Reload the configuration before the next event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, eventbus.Request{Type: eventbus.RequestReloadConfig})
	},
}

var reloadPluginsCmd = &cobra.Command{
	Use:   "reload-plugins",
	Short: "Reload the script plugins before the next event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, eventbus.Request{Type: eventbus.RequestReloadPlugins})
	},
}

var unloadCmd = &cobra.Command{
	Use:   "unload <plugin-id>",
	Short: "Remove a plugin from the chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, eventbus.Request{Type: eventbus.RequestUnloadPlugin, PluginID: args[0]})
	},
}

var schemaRequestCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration schema of the running chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd, eventbus.Request{Type: eventbus.RequestGetConfigSchema})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <keyDown|keyUp|flagsChanged> <key or flags>",
	Short: "Dispatch one event and print the outcome",
	Example: `  keymacro ctl send keyDown t
  keymacro ctl send flagsChanged 262144`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := eventbus.Request{Type: args[0]}
		switch api.EventType(args[0]) {
		case api.EventKeyDown, api.EventKeyUp:
			code, ok := hotkey.Keycode(args[1])
			if !ok {
				parsed, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("unknown key %q", args[1])
				}
				code = parsed
			}
			req.Keycode = code
		case api.EventFlagsChanged:
			flags, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid flags %q: %w", args[1], err)
			}
			req.Flags = flags
		default:
			return fmt.Errorf("unknown event type %q", args[0])
		}
		return request(cmd, req)
	},
}

func request(cmd *cobra.Command, req eventbus.Request) error {
	path := socketPath
	if path == "" {
		cfg, _, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		path = cfg.Core.SocketPath
	}

	client, err := eventbus.Dial(path, timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	injected, msg, err := client.Do(req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, event := range injected {
		fmt.Fprintf(w, "  + %s keycode=%d flags=%#x\n", event.Type, event.Keycode, event.Flags)
	}
	switch msg.Kind {
	case eventbus.KindError:
		return fmt.Errorf("daemon: %s", msg.Error)
	case eventbus.KindResult:
		fmt.Fprintf(w, "forward=%t\n", msg.Forward != nil && *msg.Forward)
	case eventbus.KindSchema:
		for _, p := range msg.Schema.Plugins {
			fmt.Fprintf(w, "%s (%s)\n", p.ID, p.Name)
			for _, item := range p.Config {
				fmt.Fprintf(w, "  %-16s %-8s %q\n", item.Name, item.Type, item.Default)
			}
		}
	default:
		fmt.Fprintln(w, msg.Kind)
	}
	return nil
}

func init() {
	ctlCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket (default core.socket_path)")
	ctlCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	ctlCmd.AddCommand(reloadConfigCmd, reloadPluginsCmd, unloadCmd, schemaRequestCmd, sendCmd)
	rootCmd.AddCommand(ctlCmd)
}
