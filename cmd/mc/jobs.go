package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/orchestrator"
	"github.com/ShayCichocki/missioncontrol/internal/state"
	"github.com/ShayCichocki/missioncontrol/internal/validate"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

var (
	enqueueType     string
	enqueuePrompt   string
	enqueueCommand  string
	enqueueAgent    string
	enqueueEngine   string
	enqueuePriority int
	enqueueParent   string
	enqueueProject  string
	enqueueTools    []string

	jobsStatus  string
	jobsType    string
	jobsParent  string
	jobsLimit   int
	jobsStalled bool
	jobsJSON    bool

	tickOnce bool
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick",
	Long: `Run one scheduler tick against the configured database and exit.

The tick honours pause_all, max_concurrency and parallel_jobs exactly as
the serve loop does. With --one, a single job is claimed regardless of
parallel_jobs.`,
	RunE: runTick,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <title>",
	Short: "Queue a job",
	Long: `Queue a job for the scheduler.

Examples:
  mc enqueue "Write launch copy" --agent Scribe --prompt "Three variants"
  mc enqueue "Plan Q3 launch" --type decomposition --agent Atlas
  mc enqueue "Nightly export" --engine shell --command "make export"`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	RunE:  runJobs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its children and reviews",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsReleaseCmd = &cobra.Command{
	Use:   "release <job-id>",
	Short: "Mark a stalled running job failed",
	Long: `Mark a stalled running job failed so it can be requeued or approved.

Nothing is released automatically: the engine process may still finish.
The release only applies if the job is still in the running period that
was observed.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRelease,
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Send a failed, rejected or paused job back to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateJob(args[0], "requeued", (*state.DB).Requeue)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Force a job to done, bypassing review",
	Long: `Force a job to done, bypassing review.

If the job was the last sibling its parent was waiting on, the integration
job is enqueued. An approved challenger's output is recorded on its board.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateJob(args[0], "approved", func(db *state.DB, id string) (*models.Job, error) {
			sched, _ := newScheduler(db, nil, nil)
			return sched.PostExec().ForceApprove(cmd.Context(), id)
		})
	},
}

func init() {
	tickCmd.Flags().BoolVar(&tickOnce, "one", false, "Claim and run a single job")

	enqueueCmd.Flags().StringVar(&enqueueType, "type", "task", "Job type: task, decomposition, review, integration")
	enqueueCmd.Flags().StringVar(&enqueuePrompt, "prompt", "", "Prompt text")
	enqueueCmd.Flags().StringVar(&enqueueCommand, "command", "", "Explicit command for shell engines")
	enqueueCmd.Flags().StringVar(&enqueueAgent, "agent", "", "Owning agent name (routed automatically when empty)")
	enqueueCmd.Flags().StringVar(&enqueueEngine, "engine", "", "Engine (defaults to the agent's engine)")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "Priority 1-10, lower runs first")
	enqueueCmd.Flags().StringVar(&enqueueParent, "parent", "", "Parent job ID")
	enqueueCmd.Flags().StringVar(&enqueueProject, "project", "", "Project ID")
	enqueueCmd.Flags().StringSliceVar(&enqueueTools, "tool", nil, "Job-level tool grant (repeatable)")

	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status")
	jobsCmd.Flags().StringVar(&jobsType, "type", "", "Filter by job type")
	jobsCmd.Flags().StringVar(&jobsParent, "parent", "", "Filter by parent job ID")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to list")
	jobsCmd.Flags().BoolVar(&jobsStalled, "stalled", false, "List jobs running past scheduler.stall_after")
	jobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "Print JSON")

	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsReleaseCmd)
}

// enqueueArgs is validated the same way as the API enqueue body.
type enqueueArgs struct {
	Title    string `validate:"required"`
	Type     string `validate:"jobtype"`
	Priority int    `validate:"omitempty,min=1,max=10"`
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if err := validate.New().Struct(enqueueArgs{Title: args[0], Type: enqueueType, Priority: enqueuePriority}); err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	j := &models.Job{
		Title:       args[0],
		Type:        models.JobType(enqueueType),
		PromptText:  enqueuePrompt,
		Command:     enqueueCommand,
		Engine:      enqueueEngine,
		Priority:    enqueuePriority,
		ParentJobID: enqueueParent,
		ProjectID:   enqueueProject,
		Tools:       enqueueTools,
		Source:      "cli",
	}
	if enqueueAgent != "" {
		agent, err := db.GetAgentByName(enqueueAgent)
		if err != nil {
			return err
		}
		if agent == nil {
			return fmt.Errorf("unknown agent %q", enqueueAgent)
		}
		j.AgentID = agent.ID
		if j.Engine == "" {
			j.Engine = agent.Engine
		}
	}
	if err := db.CreateJob(j); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Queued %s %s (priority %d)", j.ID, j.Title, j.Priority), color.FgGreen)
	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	sched, _ := newScheduler(db, nil, nil)

	var runs []orchestrator.RunResult
	if tickOnce {
		res, err := sched.ClaimAndRun(cmd.Context())
		switch {
		case errors.Is(err, orchestrator.ErrPaused), errors.Is(err, orchestrator.ErrAtCapacity):
			printStatus("-", "Tick skipped: "+err.Error(), color.FgYellow)
			return nil
		case errors.Is(err, state.ErrNoQueuedJobs):
			fmt.Println("No queued jobs.")
			return nil
		case err != nil:
			return err
		}
		runs = append(runs, res)
	} else {
		report, err := sched.Tick(cmd.Context())
		if err != nil {
			return err
		}
		if report.Skipped != "" {
			printStatus("-", "Tick skipped: "+report.Skipped, color.FgYellow)
			return nil
		}
		if len(report.Runs) == 0 {
			fmt.Println("No queued jobs.")
			return nil
		}
		runs = report.Runs
	}
	for _, r := range runs {
		if r.OK() {
			printStatus("✓", fmt.Sprintf("%s → %s", r.JobID, r.Status), color.FgGreen)
		} else {
			printStatus("✗", fmt.Sprintf("%s → %s %s", r.JobID, r.Status, r.Error), color.FgRed)
		}
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if jobsStalled {
		stalled, err := state.NewRecoveryManager(db, cfg.Scheduler.StallAfter).CheckStalled()
		if err != nil {
			return err
		}
		if jobsJSON {
			return printJSON(stalled)
		}
		if len(stalled) == 0 {
			fmt.Println("No stalled jobs.")
			return nil
		}
		for _, s := range stalled {
			printStatus("!", fmt.Sprintf("%s %s running for %s", s.Job.ID, s.Job.Title, s.RunningFor.Round(time.Second)), color.FgYellow)
		}
		return nil
	}

	f := state.JobFilter{
		Status:   models.JobStatus(jobsStatus),
		Type:     models.JobType(jobsType),
		ParentID: jobsParent,
		Limit:    jobsLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("unknown status %q", jobsStatus)
	}
	jobs, err := db.ListJobs(f)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}
	printJobs(jobs)
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	j, err := db.GetJob(args[0])
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job %s not found", args[0])
	}
	children, err := db.ListChildren(j.ID)
	if err != nil {
		return err
	}
	reviews, err := db.ListReviews(j.ID)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(map[string]any{"job": j, "children": children, "reviews": reviews})
	}

	bold := color.New(color.Bold)
	bold.Printf("%s\n", j.Title)
	fmt.Printf("  ID:       %s\n", j.ID)
	fmt.Printf("  Type:     %s\n", j.Type)
	fmt.Printf("  Status:   %s\n", statusColor(j.Status).Sprint(j.Status))
	fmt.Printf("  Priority: %d\n", j.Priority)
	fmt.Printf("  Engine:   %s\n", j.Engine)
	if j.ParentJobID != "" {
		fmt.Printf("  Parent:   %s\n", j.ParentJobID)
	}
	if j.Result != "" {
		fmt.Printf("\n%s\n", j.Result)
	}
	if len(children) > 0 {
		fmt.Println()
		bold.Println("Children")
		printJobs(children)
	}
	for _, r := range reviews {
		fmt.Println()
		bold.Printf("Review %s: %d/50 %s\n", r.ID, r.Total, verdict(r.Passed))
		if r.Feedback != "" {
			fmt.Printf("  %s\n", r.Feedback)
		}
	}
	return nil
}

func runJobsRelease(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ok, err := state.NewRecoveryManager(db, cfg.Scheduler.StallAfter).Release(args[0])
	if err != nil {
		return err
	}
	if !ok {
		printStatus("-", "Job finished before it could be released", color.FgYellow)
		return nil
	}
	printStatus("✓", "Released "+args[0], color.FgGreen)
	return nil
}

func mutateJob(id, verb string, fn func(*state.DB, string) (*models.Job, error)) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	j, err := fn(db, id)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("%s %s %s (now %s)", strings.ToUpper(verb[:1])+verb[1:], j.ID, j.Title, j.Status), color.FgGreen)
	return nil
}

func printJobs(jobs []models.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tPRI\tTITLE")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", j.ID, statusColor(j.Status).Sprint(j.Status), j.Type, j.Priority, j.Title)
	}
	w.Flush()
}

func statusColor(s models.JobStatus) *color.Color {
	switch s {
	case models.JobStatusDone:
		return color.New(color.FgGreen)
	case models.JobStatusFailed, models.JobStatusRejected:
		return color.New(color.FgRed)
	case models.JobStatusPausedHuman:
		return color.New(color.FgMagenta)
	case models.JobStatusRunning, models.JobStatusReviewing:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func verdict(passed bool) string {
	if passed {
		return color.GreenString("PASS")
	}
	return color.RedString("REJECT")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
