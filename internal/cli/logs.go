package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/logstream"
	"github.com/emberwatch-io/emberwatch/internal/models"
)

var (
	logsSessionFlag string
	logsDayFlag     string
	logsTailFlag    int
	logsKeepFlag    int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read and maintain the daily session logs",
}

var logsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print log entries",
	Long: `Print log entries from the daily JSONL files.

With --session, entries for that session across all days, ordered by
timestamp. Otherwise one day's file (today by default).`,
	RunE: runLogsShow,
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove daily log files past the retention window",
	RunE:  runLogsPrune,
}

func init() {
	logsShowCmd.Flags().StringVarP(&logsSessionFlag, "session", "s", "", "Only entries for this session id (or prefix)")
	logsShowCmd.Flags().StringVar(&logsDayFlag, "day", "", "Day to read, YYYY-MM-DD (default today)")
	logsShowCmd.Flags().IntVarP(&logsTailFlag, "tail", "n", 0, "Only the last N entries")
	logsPruneCmd.Flags().IntVar(&logsKeepFlag, "keep-days", 0, "Retention window in days (default from settings)")
	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsPruneCmd)
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}

	var entries []*models.LogEntry
	if logsSessionFlag != "" {
		sess, err := resolveSession(openRegistry(root).List, logsSessionFlag)
		if err != nil {
			return err
		}
		entries, err = logstream.SessionEntries(root, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to read session entries: %w", err)
		}
	} else {
		day := time.Now()
		if logsDayFlag != "" {
			day, err = time.Parse("2006-01-02", logsDayFlag)
			if err != nil {
				return fmt.Errorf("invalid --day %q: expected YYYY-MM-DD", logsDayFlag)
			}
		}
		entries, err = logstream.ReadEntries(config.DailyLogFile(root, day))
		if err != nil {
			return fmt.Errorf("failed to read daily log: %w", err)
		}
	}

	if logsTailFlag > 0 && len(entries) > logsTailFlag {
		entries = entries[len(entries)-logsTailFlag:]
	}
	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	for _, e := range entries {
		printEntry(e)
	}
	return nil
}

func printEntry(e *models.LogEntry) {
	ts := e.Timestamp.Local().Format("15:04:05.000")
	if e.Metadata["detected"] == "true" {
		fmt.Printf("%s %s [%-7s] $ %s\n", ts, shortID(e.SessionID), e.Kind, e.Data)
		return
	}
	fmt.Printf("%s %s [%-7s] %s\n", ts, shortID(e.SessionID), e.Kind, e.Data)
}

func runLogsPrune(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	keep := logsKeepFlag
	if keep <= 0 {
		settings, err := config.LoadSettings(root)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		keep = settings.Logging.RetentionDays
	}

	removed, err := logstream.PruneDailyLogs(root, keep, nil)
	if err != nil {
		return fmt.Errorf("failed to prune logs: %w", err)
	}
	if removed == 0 {
		fmt.Printf("Nothing to prune (keeping %d days).\n", keep)
		return nil
	}
	fmt.Printf("Removed %d daily log file(s) older than %d days under %s.\n",
		removed, keep, filepath.Join(root, config.SessionsDirName))
	return nil
}
