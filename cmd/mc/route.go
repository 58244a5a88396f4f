package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/actions"
	"github.com/ShayCichocki/missioncontrol/internal/router"
)

var (
	routeImage    bool
	routeRules    bool
	actionsDryRun bool
)

var routeCmd = &cobra.Command{
	Use:   "route <message>",
	Short: "Show which chat tier a message would use",
	Long: `Classify an operator message into quick_path, fast or deep and print
the rule that fired. Use --rules to list the rules in evaluation order.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if routeRules {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runRoute,
}

var actionsCmd = &cobra.Command{
	Use:   "actions [file]",
	Short: "Execute [MC_ACTION] blocks from a file or stdin",
	Long: `Extract [MC_ACTION:<type>]{json}[/MC_ACTION] blocks from text and
execute them. Blocks with invalid JSON are dropped. A failing action
does not stop the rest of the batch.

With --dry-run the payloads are decoded and validated but nothing is
written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActions,
}

func init() {
	routeCmd.Flags().BoolVar(&routeImage, "image", false, "Treat the message as carrying an image")
	routeCmd.Flags().BoolVar(&routeRules, "rules", false, "List the routing rules")
	actionsCmd.Flags().BoolVar(&actionsDryRun, "dry-run", false, "Validate without executing")
}

func runRoute(cmd *cobra.Command, args []string) error {
	tiers := router.NewTierRouter(cfg.Router.QuickPathMaxChars, cfg.Router.DeepMinChars)
	if routeRules {
		for i, r := range tiers.Rules() {
			fmt.Printf("%d. %s\n", i+1, r)
		}
		return nil
	}
	d := tiers.Classify(router.Message{Text: strings.Join(args, " "), HasImage: routeImage})
	fmt.Printf("%s  (rule: %s", color.CyanString(string(d.Tier)), d.Rule)
	if d.Matched != "" {
		fmt.Printf(", matched %q", d.Matched)
	}
	fmt.Println(")")
	return nil
}

func runActions(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return err
	}
	_, batch := actions.Extract(string(data))
	if len(batch) == 0 {
		fmt.Println("No actions found.")
		return nil
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	sched, _ := newScheduler(db, nil, nil)
	d := actions.NewDispatcher(db, sched.Boards(), sched.PostExec(), "cli")

	if actionsDryRun {
		for _, a := range batch {
			if _, err := d.Decode(a); err != nil {
				printStatus("✗", fmt.Sprintf("%s: %v", a.Type, err), color.FgRed)
				continue
			}
			printStatus("✓", a.Type, color.FgGreen)
		}
		return nil
	}

	failed := 0
	for _, r := range d.Execute(cmd.Context(), batch) {
		if r.OK {
			printStatus("✓", fmt.Sprintf("%s %s", r.Type, strings.Join(r.IDs, ",")), color.FgGreen)
			continue
		}
		failed++
		printStatus("✗", fmt.Sprintf("%s: %s", r.Type, r.Error), color.FgRed)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed", failed, len(batch))
	}
	return nil
}
