package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/config"
)

var (
	initForce           bool
	initWithRoster      bool
	initSkipClaudeCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Mission Control workspace",
	Long: `Initialize a directory for use with Mission Control.

This command:
  - Verifies the claude CLI is on PATH
  - Writes a .mc.yaml project config
  - Creates the signals directory used by pause and resume
  - Optionally writes an example agents.yaml roster

Examples:
  mc init                # Initialize current directory
  mc init ./ops          # Initialize a specific directory
  mc init --with-roster  # Also write an example roster`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .mc.yaml")
	initCmd.Flags().BoolVar(&initWithRoster, "with-roster", false, "Write an example agents.yaml")
	initCmd.Flags().BoolVar(&initSkipClaudeCheck, "skip-claude-check", false, "Skip claude CLI availability check")
}

const projectConfigTemplate = `# Mission Control project configuration.
store:
  driver: sqlite
  path: %s
scheduler:
  interval: 30s
  max_interval: 5m
  jitter: 2s
  stall_after: 45m
qa:
  agent: qa
server:
  addr: 127.0.0.1:8420
  # token: set MC_API_TOKEN instead of committing a token
signals_dir: %s
master_intent: ""
`

const exampleRoster = `agents:
  - name: qa
    role: qa
    engine: claude
    persona: You review work strictly and score it honestly.
  - name: Atlas
    role: orchestrator
    engine: claude
    persona: You break goals into concrete tasks for the team.
  - name: Scribe
    role: copywriter
    department: marketing
    engine: claude
    skills: [web_search]
projects: []
`

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}
	fmt.Printf("Initializing Mission Control in %s...\n\n", absPath)

	if !initSkipClaudeCheck {
		if _, err := exec.LookPath("claude"); err != nil {
			printStatus("!", "claude CLI not found on PATH; jobs on the claude engine will fail", color.FgYellow)
		} else {
			printStatus("✓", "claude CLI found", color.FgGreen)
		}
	}

	configPath := filepath.Join(absPath, config.ProjectConfigName)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		printStatus("-", config.ProjectConfigName+" already exists (use --force to overwrite)", color.FgYellow)
	} else {
		dbFile := filepath.Join(absPath, ".mc", "mc.db")
		signals := filepath.Join(absPath, ".mc", "signals")
		content := fmt.Sprintf(projectConfigTemplate, dbFile, signals)
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", configPath, err)
		}
		printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)
	}

	if err := os.MkdirAll(filepath.Join(absPath, ".mc", "signals"), 0755); err != nil {
		return fmt.Errorf("creating signals directory: %w", err)
	}
	printStatus("✓", "Created .mc/signals", color.FgGreen)

	if initWithRoster {
		rosterPath := filepath.Join(absPath, "agents.yaml")
		if _, err := os.Stat(rosterPath); err == nil && !initForce {
			printStatus("-", "agents.yaml already exists", color.FgYellow)
		} else {
			if err := os.WriteFile(rosterPath, []byte(exampleRoster), 0644); err != nil {
				return fmt.Errorf("writing roster: %w", err)
			}
			printStatus("✓", "Wrote agents.yaml", color.FgGreen)
		}
	}

	fmt.Println()
	fmt.Println("Next steps:")
	if initWithRoster {
		fmt.Println("  mc agents load agents.yaml")
	}
	fmt.Println("  mc enqueue \"First task\" --agent Scribe --prompt \"...\"")
	fmt.Println("  mc serve")
	return nil
}
