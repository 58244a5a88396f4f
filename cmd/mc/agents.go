package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/registry"
)

var agentsAll bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List or load the agent roster",
	RunE:  runAgentsList,
}

var agentsLoadCmd = &cobra.Command{
	Use:   "load <roster.yaml>",
	Short: "Upsert agents and projects from a roster file",
	Long: `Upsert agents and projects from a YAML roster file.

Example roster:

  agents:
    - name: Scribe
      role: copywriter
      department: marketing
      engine: claude
      skills: [web_search]
    - name: qa
      role: qa
      engine: claude
  projects:
    - id: launch
      name: Q3 launch
      milestones: [beta, GA]`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsLoad,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsAll, "all", false, "Include inactive agents")
	agentsCmd.AddCommand(agentsLoadCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	agents, err := db.ListAgents(!agentsAll)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents. Load a roster with 'mc agents load <file>'.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tDEPT\tENGINE\tQA AVG\tREVIEWS\tSKILLS")
	for _, a := range agents {
		name := a.Name
		if !a.Active {
			name = color.HiBlackString(name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%d\t%s\n", name, a.Role, a.Department, a.Engine,
			a.QualityScoreAvg, a.ReviewsCount, strings.Join(a.SkillNames(), ","))
	}
	return w.Flush()
}

func runAgentsLoad(cmd *cobra.Command, args []string) error {
	roster, err := registry.LoadFile(args[0])
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := roster.Apply(db); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Loaded %d agents and %d projects", len(roster.Agents), len(roster.Projects)), color.FgGreen)
	return nil
}
