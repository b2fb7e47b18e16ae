package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zero804/kup/internal/services/remote"
	"github.com/zero804/kup/internal/services/runner"
)

const probeTimeout = 30 * time.Second

var probeRemote bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the backup tools are installed",
	Long: `Check that bup is installed, and par2 when recovery information is enabled.
With --remote, also test the SSH connection to the remote host.`,
	RunE: probeTools,
}

func init() {
	probeCmd.Flags().BoolVar(&probeRemote, "remote", false, "also test the SSH connection of the remote command")
}

func probeTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	result := runner.New(log.Logger).Probe(ctx, *cfg)

	if result.BupAvailable {
		fmt.Printf("bup: %s (%s)\n", cfg.Tools.Bup, result.BupVersion)
	} else {
		fmt.Printf("bup: not found (%s)\n", cfg.Tools.Bup)
	}
	if result.Par2Available {
		fmt.Println("par2: available")
	} else {
		fmt.Println("par2: not available")
	}

	var errs []error
	if !result.BupAvailable {
		errs = append(errs, fmt.Errorf("bup is not available at %s", cfg.Tools.Bup))
	}
	if cfg.Plan.GenerateRecoveryInfo && !result.Par2Available {
		errs = append(errs, errors.New("par2 is needed for recovery information but is not available"))
	}

	if probeRemote {
		if cfg.Remote == nil {
			errs = append(errs, errors.New("remote is not configured"))
		} else {
			res, err := remote.New(log.Logger).TestConnection(ctx, *cfg.Remote)
			switch {
			case err != nil:
				errs = append(errs, err)
			case res.Error != nil:
				errs = append(errs, res.Error)
			default:
				fmt.Printf("remote: %s@%s:%d reachable\n", cfg.Remote.Username, cfg.Remote.Host, cfg.Remote.Port)
			}
		}
	}

	return errors.Join(errs...)
}
