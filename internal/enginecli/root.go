// Package enginecli holds the enginecheck commands used to probe the machine
// opponent and the rating math outside a running server.
package enginecli

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/park285/cheese-arena/internal/chess"
	"github.com/park285/cheese-arena/internal/oracle"
	"github.com/park285/cheese-arena/internal/oracle/chessrules"
	"github.com/park285/cheese-arena/internal/settlement"
)

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:  "enginecheck",
		Args: cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(Best())
	root.AddCommand(Eval())
	root.AddCommand(Analyze())
	root.AddCommand(Elo())
	return root
}

func position(fen string) (oracle.Position, error) {
	rules := chessrules.New()
	if strings.TrimSpace(fen) == "" {
		return rules.Start(), nil
	}
	return rules.Deserialize(fen)
}

func Best() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Print the machine opponent's move for a position",
		Long: heredoc.Doc(`best asks the machine opponent for its move at the given
			difficulty. Without --fen the standard start position is used.
			Passing --seed makes easy-level choices repeatable.`),
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			fen, _ := cmd.Flags().GetString("fen")
			difficulty, _ := cmd.Flags().GetString("difficulty")
			pos, err := position(fen)
			if err != nil {
				return err
			}
			engine := chess.NewEngine()
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetInt64("seed")
				engine.SetRandomSeed(seed)
			}
			mv, err := engine.ChooseMove(pos, difficulty)
			if err != nil {
				return err
			}
			_, applied, err := pos.Apply(mv.UCI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", applied.UCI, applied.SAN)
			return nil
		},
	}
	cmd.Flags().StringP("fen", "f", "", "Position to search")
	cmd.Flags().StringP("difficulty", "d", "medium", "Difficulty preset (easy, medium, hard)")
	cmd.Flags().Int64("seed", 0, "Random seed for the easy preset")
	return cmd
}

func Eval() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Print the static evaluation of a position",
		Long: heredoc.Doc(`eval prints the static score in centipawns from White's
			point of view. --structural adds the pawn-structure and
			bishop-pair terms used by the hard preset.`),
		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			fen, _ := cmd.Flags().GetString("fen")
			structural, _ := cmd.Flags().GetBool("structural")
			pos, err := position(fen)
			if err != nil {
				return err
			}
			score := chess.Evaluator{Structural: structural}.Evaluate(pos, oracle.White)
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", score)
			return nil
		},
	}
	cmd.Flags().StringP("fen", "f", "", "Position to evaluate")
	cmd.Flags().BoolP("structural", "s", false, "Include structural terms")
	return cmd
}

func Analyze() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a fixed-depth search and print its statistics",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			fen, _ := cmd.Flags().GetString("fen")
			depth, _ := cmd.Flags().GetInt("depth")
			quiet, _ := cmd.Flags().GetBool("quiescence")
			pos, err := position(fen)
			if err != nil {
				return err
			}
			a, err := chess.Search(pos, depth, chess.Evaluator{Structural: true}, quiet, 8)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "move %s score %d depth %d nodes %d\n", a.Move.UCI, a.Score, a.Depth, a.Nodes)
			return nil
		},
	}
	cmd.Flags().StringP("fen", "f", "", "Position to search")
	cmd.Flags().IntP("depth", "d", 2, "Search depth in plies")
	cmd.Flags().BoolP("quiescence", "q", true, "Extend the horizon over captures and checks")
	return cmd
}

func Elo() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elo own opponent score",
		Short: "Compute a rating update",
		Long: heredoc.Doc(`elo prints the new rating for a player rated <own> who
			scored <score> (1, 0.5 or 0) against <opponent>.`),
		Args: cobra.ExactArgs(3),

		RunE: func(cmd *cobra.Command, args []string) error {
			var own, opp int
			var score float64
			if _, err := fmt.Sscan(args[0], &own); err != nil {
				return fmt.Errorf("own rating: %w", err)
			}
			if _, err := fmt.Sscan(args[1], &opp); err != nil {
				return fmt.Errorf("opponent rating: %w", err)
			}
			if _, err := fmt.Sscan(args[2], &score); err != nil || (score != 0 && score != 0.5 && score != 1) {
				return fmt.Errorf("score must be 0, 0.5 or 1")
			}
			k, _ := cmd.Flags().GetFloat64("k")
			next := settlement.NewRating(own, opp, score, k)
			fmt.Fprintf(cmd.OutOrStdout(), "%d (%+d)\n", next, next-own)
			return nil
		},
	}
	cmd.Flags().Float64P("k", "k", 32, "K-factor")
	return cmd
}
