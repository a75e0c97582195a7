package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberwatch-io/emberwatch/internal/config"
	"github.com/emberwatch-io/emberwatch/internal/models"
	"github.com/emberwatch-io/emberwatch/internal/recovery"
	"github.com/emberwatch-io/emberwatch/internal/store"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect recovery checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operation checkpoints",
	RunE:  runCheckpointsList,
}

var checkpointsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove expired checkpoints now",
	RunE:  runCheckpointsReap,
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsReapCmd)
}

func openCoordinator(root string) (*recovery.Coordinator, error) {
	settings, err := config.LoadSettings(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return recovery.NewCoordinator(root, store.New(), settings.Recovery), nil
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	coord, err := openCoordinator(root)
	if err != nil {
		return err
	}

	cps, err := coord.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		fmt.Println("No pending checkpoints.")
		return nil
	}

	sort.Slice(cps, func(i, j int) bool {
		return cps[i].Timestamp.Before(cps[j].Timestamp)
	})

	now := time.Now().UTC()
	fmt.Printf("%-10s %-14s %-10s %-9s %s\n", "ID", "OPERATION", "SESSION", "RETRIES", "EXPIRES")
	for _, cp := range cps {
		fmt.Printf("%-10s %-14s %-10s %d/%-7d %s\n",
			shortID(cp.ID), cp.OperationType, sessionColumn(cp),
			cp.RetryCount, cp.MaxRetries, expiryColumn(cp, now))
	}
	return nil
}

func sessionColumn(cp *models.Checkpoint) string {
	if cp.SessionID == "" {
		return "-"
	}
	return shortID(cp.SessionID)
}

func expiryColumn(cp *models.Checkpoint, now time.Time) string {
	if cp.Expired(now) {
		return "expired"
	}
	return "in " + cp.ExpiresAt.Sub(now).Truncate(time.Minute).String()
}

func runCheckpointsReap(cmd *cobra.Command, args []string) error {
	root, err := dataRoot()
	if err != nil {
		return err
	}
	coord, err := openCoordinator(root)
	if err != nil {
		return err
	}

	reaped, err := coord.ReapExpired()
	if err != nil {
		return fmt.Errorf("failed to reap checkpoints: %w", err)
	}
	fmt.Printf("Removed %d expired checkpoint(s).\n", reaped)
	return nil
}
