package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberwatch-io/emberwatch/internal/models"
)

var sessionsAllFlag bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect tracked agent sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's record and checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsListCmd.Flags().BoolVarP(&sessionsAllFlag, "all", "a", false, "Include completed, failed, and abandoned sessions")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	sessions, err := openRegistry(root).List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	shown := sessions[:0]
	for _, s := range sessions {
		if sessionsAllFlag || !s.IsTerminal() {
			shown = append(shown, s)
		}
	}
	if len(shown) == 0 {
		if sessionsAllFlag {
			fmt.Println("No sessions.")
		} else {
			fmt.Println("No running sessions. Use --all to include finished ones.")
		}
		return nil
	}

	sort.Slice(shown, func(i, j int) bool {
		return shown[i].StartTime.After(shown[j].StartTime)
	})

	fmt.Printf("%-10s %-14s %-10s %-8s %s\n", "ID", "AGENT", "STATUS", "PID", "LAST HEARTBEAT")
	for _, s := range shown {
		fmt.Printf("%-10s %-14s %-10s %-8d %s ago\n",
			shortID(s.ID), s.AgentName, s.Status, s.PID,
			time.Since(s.LastHeartbeat).Truncate(time.Second))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	reg := openRegistry(root)

	sess, err := resolveSession(reg.List, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("  Agent:          %s\n", sess.AgentName)
	fmt.Printf("  Status:         %s\n", sess.Status)
	fmt.Printf("  PID:            %d\n", sess.PID)
	fmt.Printf("  Started:        %s\n", sess.StartTime.Local().Format(time.RFC3339))
	fmt.Printf("  Last heartbeat: %s\n", sess.LastHeartbeat.Local().Format(time.RFC3339))
	if sess.EndTime != nil {
		fmt.Printf("  Ended:          %s\n", sess.EndTime.Local().Format(time.RFC3339))
	}
	if sess.ExitCode != nil {
		fmt.Printf("  Exit code:      %d\n", *sess.ExitCode)
	}
	if sess.Correlation.ProjectID != "" {
		fmt.Printf("  Project:        %s\n", sess.Correlation.ProjectID)
	}
	if sess.Correlation.TaskID != "" {
		fmt.Printf("  Task:           %s\n", sess.Correlation.TaskID)
	}

	cp, err := reg.LoadCheckpoint(sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		fmt.Println("  Checkpoint:     none")
	} else {
		fmt.Printf("  Checkpoint:     position %d (updated %s)\n",
			cp.Position, cp.UpdatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

// resolveSession finds a session by full id or unambiguous prefix.
func resolveSession(list func() ([]*models.Session, error), idOrPrefix string) (*models.Session, error) {
	sessions, err := list()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var matches []*models.Session
	for _, s := range sessions {
		if s.ID == idOrPrefix {
			return s, nil
		}
		if len(idOrPrefix) >= 4 && len(s.ID) >= len(idOrPrefix) && s.ID[:len(idOrPrefix)] == idOrPrefix {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no session matches %q", idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous (%d sessions match)", idOrPrefix, len(matches))
	}
}
