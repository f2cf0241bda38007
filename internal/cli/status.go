package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/erawatcher/internal/core/progress"
)

var probeChain bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crawl progress, the latest block and the latest era",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&probeChain, "probe", false, "probe the node pool for the chain height")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = deps.Close()
	}()

	last, err := deps.Tracker.LastCalculatedHeight(ctx)
	if err != nil {
		slog.Error("Failed to read progress", "error", err)
		return err
	}
	calculating, err := deps.Tracker.IsCalculating(ctx)
	if err != nil {
		slog.Error("Failed to read calculating lock", "error", err)
		return err
	}
	block, err := deps.Store.Blocks.Latest(ctx)
	if err != nil {
		slog.Error("Failed to read latest block", "error", err)
		return err
	}
	era, err := deps.Store.Eras.Latest(ctx)
	if err != nil {
		slog.Error("Failed to read latest era", "error", err)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE")

	if last == progress.NoHeight {
		_, _ = fmt.Fprintln(w, "last calculated height\t-")
	} else {
		_, _ = fmt.Fprintf(w, "last calculated height\t%d\n", last)
	}
	_, _ = fmt.Fprintf(w, "calculating\t%t\n", calculating)

	head := int64(progress.NoHeight)
	if block != nil {
		head = int64(block.Height)
		_, _ = fmt.Fprintf(w, "latest block\t%d (era %d, %s)\n", block.Height, block.EraID, block.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	}
	if era != nil {
		_, _ = fmt.Fprintf(w, "latest era\t%d (open=%t)\n", era.ID, era.IsOpen())
		_, _ = fmt.Fprintf(w, "total supply\t%d\n", era.TotalSupply)
		_, _ = fmt.Fprintf(w, "circulating supply\t%d\n", era.CirculatingSupply)
	}

	if probeChain {
		height, err := deps.NewNodePool().ProbeWithRetry(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(w, "chain height\tunavailable (%v)\n", err)
		} else {
			head = int64(height)
			_, _ = fmt.Fprintf(w, "chain height\t%d\n", height)
		}
	}
	if head > last {
		_, _ = fmt.Fprintf(w, "lag\t%d\n", head-last)
	} else {
		_, _ = fmt.Fprintln(w, "lag\t0")
	}
	return w.Flush()
}
