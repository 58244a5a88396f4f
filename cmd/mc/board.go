package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missioncontrol/internal/board"
	"github.com/ShayCichocki/missioncontrol/internal/validate"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

var (
	boardContext     string
	boardOptions     []string
	boardChallengers []string
	boardProject     string

	respondAgent    string
	respondPosition string
	respondArgument string

	decideRationale string
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open, feed and decide challenge boards",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Open a board and dispatch one job per challenger",
	Long: `Open a challenge board. Each challenger receives a job asking for a
position among the options, argued from its lens.

Example:
  mc board create "Pick launch channel" \
    --option "Paid social" --option "Partner webinars" \
    --challenger Scribe:customer --challenger Atlas:risk`,
	Args: cobra.ExactArgs(1),
	RunE: runBoardCreate,
}

var boardRespondCmd = &cobra.Command{
	Use:   "respond <board-id>",
	Short: "Record a challenger response by hand",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoardRespond,
}

var boardSynthesiseCmd = &cobra.Command{
	Use:   "synthesise <board-id>",
	Short: "Rank options by recommendations and open the board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoards(func(svc *board.Service) error {
			b, err := svc.Synthesise(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBoard(b)
			return nil
		})
	},
}

var boardDecideCmd = &cobra.Command{
	Use:   "decide <board-id> <option-label>",
	Short: "Record the human decision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoards(func(svc *board.Service) error {
			b, err := svc.Decide(cmd.Context(), args[0], strings.ToUpper(args[1]), decideRationale)
			if err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Decided %s: %s", b.ID, b.FinalDecision), color.FgGreen)
			return nil
		})
	},
}

var boardShowCmd = &cobra.Command{
	Use:   "show [board-id]",
	Short: "Show one board, or list all boards",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBoardShow,
}

func init() {
	boardCreateCmd.Flags().StringVar(&boardContext, "context", "", "Decision context")
	boardCreateCmd.Flags().StringArrayVar(&boardOptions, "option", nil, "Option summary (repeatable)")
	boardCreateCmd.Flags().StringArrayVar(&boardChallengers, "challenger", nil, "Challenger as agent[:perspective] (repeatable)")
	boardCreateCmd.Flags().StringVar(&boardProject, "project", "", "Project ID")

	boardRespondCmd.Flags().StringVar(&respondAgent, "agent", "", "Responding agent name")
	boardRespondCmd.Flags().StringVar(&respondPosition, "position", "", "Option label the agent recommends")
	boardRespondCmd.Flags().StringVar(&respondArgument, "argument", "", "Argument text")
	_ = boardRespondCmd.MarkFlagRequired("agent")
	_ = boardRespondCmd.MarkFlagRequired("position")

	boardDecideCmd.Flags().StringVar(&decideRationale, "rationale", "", "Why this option")

	boardCmd.AddCommand(boardCreateCmd)
	boardCmd.AddCommand(boardRespondCmd)
	boardCmd.AddCommand(boardSynthesiseCmd)
	boardCmd.AddCommand(boardDecideCmd)
	boardCmd.AddCommand(boardShowCmd)
}

func withBoards(fn func(*board.Service) error) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	sched, _ := newScheduler(db, nil, nil)
	return fn(sched.Boards())
}

// parseChallengers turns "agent[:perspective]" flags into challengers.
func parseChallengers(specs []string) []board.Challenger {
	out := make([]board.Challenger, 0, len(specs))
	for _, s := range specs {
		name, lens, _ := strings.Cut(s, ":")
		out = append(out, board.Challenger{Agent: strings.TrimSpace(name), Perspective: strings.TrimSpace(lens)})
	}
	return out
}

func runBoardCreate(cmd *cobra.Command, args []string) error {
	req := board.CreateRequest{
		Title:       args[0],
		Context:     boardContext,
		Options:     boardOptions,
		Challengers: parseChallengers(boardChallengers),
		ProjectID:   boardProject,
	}
	if err := validate.New().Struct(req); err != nil {
		return err
	}
	return withBoards(func(svc *board.Service) error {
		b, jobs, err := svc.Create(cmd.Context(), req)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Opened board %s with %d challenger jobs", b.ID, len(jobs)), color.FgGreen)
		for _, j := range jobs {
			fmt.Printf("  %s %s\n", j.ID, j.Title)
		}
		return nil
	})
}

func runBoardRespond(cmd *cobra.Command, args []string) error {
	return withBoards(func(svc *board.Service) error {
		r, err := svc.RecordResponse(cmd.Context(), args[0], models.ChallengeResponse{
			AgentName: respondAgent,
			Position:  respondPosition,
			Argument:  respondArgument,
		})
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Recorded %s for %s", r.Position, r.AgentName), color.FgGreen)
		return nil
	})
}

func runBoardShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		boards, err := db.ListBoards()
		if err != nil {
			return err
		}
		if len(boards) == 0 {
			fmt.Println("No boards.")
			return nil
		}
		for _, b := range boards {
			fmt.Printf("%s  %-12s  %s\n", b.ID, b.Status, b.DecisionTitle)
		}
		return nil
	}
	svc := board.NewService(db)
	b, err := svc.Get(args[0])
	if err != nil {
		return err
	}
	printBoard(b)
	return nil
}

func printBoard(b *models.ChallengeBoard) {
	color.New(color.Bold).Printf("%s (%s)\n", b.DecisionTitle, b.Status)
	if b.DecisionContext != "" {
		fmt.Printf("  %s\n", b.DecisionContext)
	}
	for _, o := range b.Options {
		marker := " "
		if o.Label == b.FinalDecision {
			marker = color.GreenString("✓")
		}
		fmt.Printf("%s %s. %s", marker, o.Label, o.Summary)
		if len(o.RecommendedBy) > 0 {
			fmt.Printf("  [%s]", strings.Join(o.RecommendedBy, ", "))
		}
		fmt.Println()
	}
	for _, r := range b.Responses {
		fmt.Printf("  %s → %s: %s\n", r.AgentName, r.Position, r.Argument)
	}
	if b.Rationale != "" {
		fmt.Printf("Rationale: %s\n", b.Rationale)
	}
}
