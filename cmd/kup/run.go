package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zero804/kup/internal/services/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup job",
	Long: `Execute the backup job for the configured plan:
1. Wake-on-LAN (if configured)
2. Check that bup (and par2, if needed) is installed
3. Initialize the bup archive at the destination
4. Integrity check (if enabled)
5. Index the included paths
6. Save a snapshot
7. Generate recovery information (if enabled)
8. Run the remote command (if configured)
9. Send Telegram notification (if configured)

SIGINT and SIGTERM abort the job. SIGUSR1 suspends the running stage
and SIGUSR2 resumes it.`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("plan", cfg.Plan.Name).
		Str("destination", cfg.Destination.Path).
		Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runnerSvc := runner.New(log.Logger)

	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	if suspendSignal != nil {
		signals = append(signals, suspendSignal, resumeSignal)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				handleSignal(sig, runnerSvc, cancel)
			case <-ctx.Done():
				return
			}
		}
	}()

	outcome, err := runnerSvc.Run(ctx, *cfg, nil)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}
	if err := outcome.Err(); err != nil {
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}

func handleSignal(sig os.Signal, svc runner.Service, cancel context.CancelFunc) {
	switch sig {
	case suspendSignal:
		if !svc.Suspend() {
			log.Warn().Msg("nothing to suspend")
			return
		}
		log.Info().Msg("backup suspended")
	case resumeSignal:
		if !svc.Resume() {
			log.Warn().Msg("nothing to resume")
			return
		}
		log.Info().Msg("backup resumed")
	default:
		log.Warn().Str("signal", sig.String()).Msg("received signal, aborting backup")
		cancel()
	}
}
