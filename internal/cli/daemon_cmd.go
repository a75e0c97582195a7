package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberwatch-io/emberwatch/internal/config"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the Emberwatch daemon",
	Long:  `Manage the Emberwatch daemon process.`,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	running, info, err := config.IsDaemonRunning(root)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if running && info != nil {
		fmt.Printf("Daemon is already running (PID %d).\n", info.PID)
		return nil
	}

	// Clean up stale daemon info if it exists
	if info != nil {
		_ = config.RemoveDaemonInfo(root)
	}

	fmt.Print("Starting daemon...")
	if startErr := startDaemon(root); startErr != nil {
		fmt.Println()
		return startErr
	}

	_, freshInfo, err := config.IsDaemonRunning(root)
	if err != nil || freshInfo == nil {
		fmt.Println(" started.")
		return nil
	}

	fmt.Printf(" started (PID %d).\n", freshInfo.PID)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	running, info, err := config.IsDaemonRunning(root)
	if err != nil {
		return err
	}

	if !running || info == nil {
		fmt.Println("Daemon is not running.")
		return nil
	}

	uptime := time.Since(info.StartedAt).Truncate(time.Second)

	fmt.Println("Daemon is running.")
	fmt.Printf("  Root:       %s\n", info.Root)
	fmt.Printf("  PID:        %d\n", info.PID)
	fmt.Printf("  Uptime:     %s\n", uptime)

	// Show running sessions
	sessions, err := openRegistry(root).List()
	if err != nil {
		return nil // Non-fatal: just skip session display
	}

	active := 0
	for _, s := range sessions {
		if !s.IsTerminal() {
			active++
		}
	}
	if active == 0 {
		fmt.Println("\nNo running sessions.")
	} else {
		fmt.Printf("\nRunning sessions (%d):\n", active)
		for _, s := range sessions {
			if s.IsTerminal() {
				continue
			}
			fmt.Printf("  %s  %s (PID %d, last heartbeat %s ago)\n",
				shortID(s.ID), s.AgentName, s.PID,
				time.Since(s.LastHeartbeat).Truncate(time.Second))
		}
	}

	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	running, info, err := config.IsDaemonRunning(root)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running || info == nil {
		fmt.Println("Daemon is not running.")
		return nil
	}

	process, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("failed to find daemon process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send stop signal: %w", err)
	}

	// Poll for shutdown (max 5 seconds)
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		stillRunning, _, err := config.IsDaemonRunning(root)
		if err == nil && !stillRunning {
			fmt.Println("Daemon stopped.")
			return nil
		}
	}

	return fmt.Errorf("daemon did not stop within timeout")
}
