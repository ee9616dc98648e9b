package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/jobprobe/internal/observability"
	"github.com/3leaps/jobprobe/pkg/output"
	"github.com/3leaps/jobprobe/pkg/sink"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived probe sessions",
	Long: `List sessions archived by the local file sink (sink.dir), newest first.

Examples:
  jobprobe history
  jobprobe history --dir ./probe-sessions --limit 5
  jobprobe history --json`,
	RunE: runHistory,
}

var (
	historyDir   string
	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDir, "dir", "", "Session archive directory (overrides sink.dir)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output one session record per line")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	dir := historyDir
	if dir == "" {
		dir = appConfig.Sink.Dir
	}
	if dir == "" {
		return exitError(foundry.ExitInvalidArgument, "No session archive configured",
			fmt.Errorf("set sink.dir or pass --dir"))
	}

	sessions, err := sink.NewFileSink(dir).List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read session archive", err)
	}
	if historyLimit > 0 && len(sessions) > historyLimit {
		sessions = sessions[:historyLimit]
	}
	if len(sessions) == 0 {
		observability.CLILogger.Info("No sessions found")
		return nil
	}

	if historyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for i := range sessions {
			if err := enc.Encode(&sessions[i]); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return nil
	}
	return writeHistoryTable(cmd.OutOrStdout(), sessions)
}

func writeHistoryTable(out io.Writer, sessions []output.SessionRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tSESSION\tMODEL\tOUTCOME\tQUEUED\tRUNNING\tTOTAL")
	for _, s := range sessions {
		kind, queued, running, total := "-", "-", "-", "-"
		if o := s.Outcome; o != nil {
			kind = o.Kind
			if o.QueuedTime != nil {
				queued = formatSeconds(*o.QueuedTime)
			}
			running = formatSeconds(o.RunningTime)
			total = formatSeconds(o.JobTime)
		}
		model := s.Model
		if model == "" {
			model = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.StartedAt.Local().Format(time.DateTime), s.SessionID, model, kind, queued, running, total)
	}
	return w.Flush()
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Millisecond).String()
}
