package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/infra"
	"github.com/eliteGoblin/focusd/mon_sup/internal/ipc"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
	"github.com/eliteGoblin/focusd/mon_sup/internal/usecase"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show suppression status",
	Long:  `Shows whether monsup is running, its suppression state, and which monitors it holds disabled.`,
	RunE:  runStatus,
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the live monitor topology",
	Long:  `Prints every connected monitor and what suppression would turn off.`,
	RunE:  runTopology,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Re-enable monitors now",
	Long: `Asks the running instance to restore the monitors it disabled.

With --from-cache and no instance running, applies the encrypted baseline
left behind by a session that exited while monitors were disabled.`,
	RunE: runRestore,
}

var fromCache bool

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, false)
	if err != nil {
		return err
	}

	pid, running := infra.InstanceRunning(settings.StateDir)
	if !running {
		fmt.Println("monsup is not running")
		return nil
	}

	report, err := ipc.ReadStatus(settings.StateDir)
	if err != nil {
		fmt.Printf("monsup is running (pid %d), status unavailable: %v\n", pid, err)
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("monsup is running (pid %d)\n", pid)
	fmt.Printf("  target:      %s (%s)\n", report.Target, runningWord(report.TargetRunning))
	fmt.Printf("  state:       %s, icon %s\n", report.State, report.Icon)
	fmt.Printf("  last change: %s\n", humanize.Time(report.ChangedAt))
	if report.BaselineSize > 0 {
		fmt.Printf("  baseline:    %d monitors\n", report.BaselineSize)
	}
	if len(report.Disabled) > 0 {
		fmt.Printf("  disabled:    %s\n", strings.Join(report.Disabled, ", "))
	}
	if report.RestorePending {
		fmt.Println("  restore pending, retrying every poll")
	}
	if report.LastError != "" {
		fmt.Printf("  last error:  %s\n", report.LastError)
	}
	return nil
}

func runningWord(running bool) string {
	if running {
		return "running"
	}
	return "not running"
}

func runTopology(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, false)
	if err != nil {
		return err
	}
	display, closeDisplay, err := openDisplay(settings)
	if err != nil {
		return err
	}
	defer closeDisplay()

	controller := topology.NewController(display, settings.CallTimeout, zap.NewNop())
	live, err := controller.Capture(context.Background())
	if err != nil {
		return err
	}

	suppressed := topology.ComputeSuppressed(live)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENABLED\tPRIMARY\tGEOMETRY\tREFRESH\tSUPPRESSED")
	for _, m := range live.Monitors {
		after, _ := suppressed.Lookup(m.ID)
		fmt.Fprintf(tw, "%s\t%t\t%t\t%dx%d+%d+%d\t%.2fHz\t%s\n",
			m.ID, m.Enabled, m.Primary, m.Width, m.Height, m.X, m.Y, m.RefreshHz, onOff(after.Enabled))
	}
	return tw.Flush()
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func runRestore(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, false)
	if err != nil {
		return err
	}

	pid, running := infra.InstanceRunning(settings.StateDir)
	if running {
		if fromCache {
			return fmt.Errorf("monsup is running (pid %d); stop it before restoring from cache", pid)
		}
		if err := ipc.WriteCommand(settings.StateDir, domain.CmdRestore); err != nil {
			return fmt.Errorf("failed to send restore: %w", err)
		}
		fmt.Println("restore requested")
		return nil
	}

	if !fromCache {
		fmt.Println("monsup is not running; use --from-cache to apply a baseline left by a previous session")
		return nil
	}

	logger := createLogger(settings)
	defer func() { _ = logger.Sync() }()

	display, closeDisplay, err := openDisplay(settings)
	if err != nil {
		return err
	}
	defer closeDisplay()

	store, err := infra.OpenBaselineStore(settings.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	controller := topology.NewController(display, settings.CallTimeout, logger)
	snap, report, err := usecase.RestoreCached(context.Background(), controller, store,
		domain.SlotRecovered, domain.SlotActive)
	if errors.Is(err, domain.ErrNoBaseline) {
		fmt.Println("no cached baseline")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("restored cached baseline",
		zap.Stringer("baseline", snap),
		zap.Strings("enabled", report.Changed),
		zap.Strings("skipped", report.Skipped))
	fmt.Printf("restored baseline from %s\n", humanize.Time(snap.CapturedAt))
	if len(report.Changed) > 0 {
		fmt.Printf("  re-enabled: %s\n", strings.Join(report.Changed, ", "))
	}
	if len(report.Skipped) > 0 {
		fmt.Printf("  not connected: %s\n", strings.Join(report.Skipped, ", "))
	}
	return nil
}
