package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Mission Control configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), writes the value to the user config.

Configuration is stored at ~/.config/missioncontrol/config.yaml.
Project-specific overrides can be placed in .mc.yaml, and every key
can be overridden with an MC_ environment variable
(scheduler.interval becomes MC_SCHEDULER_INTERVAL).`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			return displayConfigKey(args[0])
		default:
			if err := config.SetUserValue(args[0], args[1]); err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Set %s in %s", args[0], config.GetUserConfigPath()), color.FgGreen)
			return nil
		}
	},
}

// secretKeys are masked when displayed.
var secretKeys = map[string]bool{
	"anthropic.api_key": true,
	"server.token":      true,
}

func displayAllConfig(cfg *config.Config) {
	key, _ := config.GetAPIKey(cfg)
	fmt.Printf("store.driver: %s\n", cfg.Store.Driver)
	fmt.Printf("store.path: %s\n", cfg.Store.Path)
	fmt.Printf("scheduler.interval: %s\n", cfg.Scheduler.Interval)
	fmt.Printf("scheduler.max_interval: %s\n", cfg.Scheduler.MaxInterval)
	fmt.Printf("scheduler.jitter: %s\n", cfg.Scheduler.Jitter)
	fmt.Printf("scheduler.stall_after: %s\n", cfg.Scheduler.StallAfter)
	fmt.Printf("scheduler.health_url: %s\n", cfg.Scheduler.HealthURL)
	fmt.Printf("qa.agent: %s\n", cfg.QA.Agent)
	fmt.Printf("qa.engine: %s\n", cfg.QA.Engine)
	fmt.Printf("router.quick_path_max_chars: %d\n", cfg.Router.QuickPathMaxChars)
	fmt.Printf("router.deep_min_chars: %d\n", cfg.Router.DeepMinChars)
	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)
	fmt.Printf("server.token: %s\n", mask(cfg.Server.Token))
	fmt.Printf("anthropic.api_key: %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.fast_model: %s\n", cfg.Anthropic.FastModel)
	fmt.Printf("anthropic.bedrock: %t\n", cfg.Anthropic.Bedrock)
	fmt.Printf("log.level: %s\n", cfg.Log.Level)
	fmt.Printf("signals_dir: %s\n", cfg.SignalsDir)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)

	names := cfg.EngineNames()
	sort.Strings(names)
	for _, name := range names {
		e, _ := cfg.Engine(name)
		fmt.Printf("engines.%s.command: %s %s\n", name, e.Command, strings.Join(e.Args, " "))
	}

	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("\n(project overrides from %s)\n", p)
	}
}

func displayConfigKey(key string) error {
	val, ok, err := config.Lookup(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	if secretKeys[key] {
		fmt.Println(mask(fmt.Sprint(val)))
		return nil
	}
	fmt.Println(val)
	return nil
}

func mask(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "****"
}
