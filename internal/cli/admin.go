package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/erawatcher/internal/indexing/supply"
)

var (
	clearCrawled bool
	eraFlag      int64
)

var resetProgressCmd = &cobra.Command{
	Use:   "reset-progress [height]",
	Short: "Set the last calculated height, -1 to aggregate from genesis",
	Args:  cobra.ExactArgs(1),
	RunE:  runResetProgress,
}

var recomputeSupplyCmd = &cobra.Command{
	Use:   "recompute-supply",
	Short: "Recompute circulating supply for one era or all eras",
	Args:  cobra.NoArgs,
	RunE:  runRecomputeSupply,
}

var approveTransferCmd = &cobra.Command{
	Use:   "approve-transfer [hash] [true|false]",
	Short: "Set the approval of a transfer and recompute every era",
	Args:  cobra.ExactArgs(2),
	RunE:  runApproveTransfer,
}

var importUnlocksCmd = &cobra.Command{
	Use:   "import-unlocks [file.yaml]",
	Short: "Load the validator unlock schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportUnlocks,
}

func init() {
	resetProgressCmd.Flags().BoolVar(&clearCrawled, "clear-crawled", false, "also clear crawled markers above the height up to the latest stored block")
	recomputeSupplyCmd.Flags().Int64Var(&eraFlag, "era", -1, "era id (default all eras)")
	rootCmd.AddCommand(resetProgressCmd, recomputeSupplyCmd, approveTransferCmd, importUnlocksCmd)
}

func runResetProgress(cmd *cobra.Command, args []string) error {
	height, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || height < -1 {
		return fmt.Errorf("invalid height %q", args[0])
	}

	ctx := cmd.Context()
	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	if clearCrawled {
		latest, err := deps.Store.Blocks.Latest(ctx)
		if err != nil {
			return err
		}
		cleared := 0
		if latest != nil {
			for h := uint64(height + 1); h <= latest.Height; h++ {
				if err := deps.Tracker.ClearCrawled(ctx, h); err != nil {
					return fmt.Errorf("clear crawled %d: %w", h, err)
				}
				cleared++
			}
		}
		slog.Info("Crawled markers cleared", "from", height+1, "count", cleared)
	}

	if err := deps.Tracker.SetLastCalculatedHeight(ctx, height); err != nil {
		slog.Error("Failed to reset progress", "error", err)
		return err
	}
	fmt.Printf("Successfully reset last calculated height to %d\n", height)
	return nil
}

func runRecomputeSupply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	calc := deps.NewCalculator()
	if eraFlag < 0 {
		if err := calc.RecomputeAll(ctx); err != nil {
			slog.Error("Failed to recompute supply", "error", err)
			return err
		}
		fmt.Println("Recomputed circulating supply for all eras")
		return nil
	}

	value, err := calc.Recompute(ctx, uint64(eraFlag))
	if err != nil {
		slog.Error("Failed to recompute supply", "era_id", eraFlag, "error", err)
		return err
	}
	fmt.Printf("Era %d circulating supply: %d\n", eraFlag, value)
	return nil
}

func runApproveTransfer(cmd *cobra.Command, args []string) error {
	approved, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid approval %q: %w", args[1], err)
	}

	ctx := cmd.Context()
	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	if err := deps.NewCalculator().Approve(ctx, args[0], approved); err != nil {
		slog.Error("Failed to approve transfer", "hash", args[0], "error", err)
		return err
	}
	fmt.Printf("Transfer %s approved=%t, circulating supply recomputed\n", args[0], approved)
	return nil
}

func runImportUnlocks(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := supply.LoadSchedule(f)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	if err := deps.Store.Unlocks.SaveBatch(ctx, entries); err != nil {
		slog.Error("Failed to save unlock schedule", "error", err)
		return err
	}
	fmt.Printf("Imported %d unlock entries\n", len(entries))
	return nil
}
