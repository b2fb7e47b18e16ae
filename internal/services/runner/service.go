// Package runner orchestrates a complete backup run around the bup job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zero804/kup/internal/logfile"
	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/report"
	"github.com/zero804/kup/internal/services/bup"
	"github.com/zero804/kup/internal/services/job"
	"github.com/zero804/kup/internal/services/process"
	"github.com/zero804/kup/internal/services/remote"
	"github.com/zero804/kup/internal/services/telegram"
	"github.com/zero804/kup/internal/services/wol"
	"golang.org/x/sync/errgroup"
)

// notifyTimeout bounds the notification sent after the run, even an aborted one.
const notifyTimeout = 30 * time.Second

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig, reporter job.Reporter) (models.Outcome, error)
	Probe(ctx context.Context, cfg models.BackupConfig) models.ProbeResult
	Suspend() bool
	Resume() bool
}

// LogFile is the append-only run log.
type LogFile interface {
	io.Writer
	Path() string
	Close() error
}

// Impl implements the runner Service interface.
type Impl struct {
	procs       process.Service
	wolSvc      wol.Service
	remoteSvc   remote.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	openLog     func(path string) LogFile
	hostname    func() (string, error)
	newRunID    func() string

	mu  sync.Mutex
	job *job.Job
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		procs:       process.New(logger),
		wolSvc:      wol.New(logger),
		remoteSvc:   remote.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		openLog:     func(path string) LogFile { return logfile.New(path) },
		hostname:    os.Hostname,
		newRunID:    uuid.NewString,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	procs process.Service,
	wolSvc wol.Service,
	remoteSvc remote.Service,
	telegramSvc telegram.Service,
	openLog func(path string) LogFile,
) *Impl {
	return &Impl{
		procs:       procs,
		wolSvc:      wolSvc,
		remoteSvc:   remoteSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		openLog:     openLog,
		hostname:    os.Hostname,
		newRunID:    uuid.NewString,
	}
}

// Run wakes the destination host if configured, runs the backup job, runs the
// remote command and sends the notification. The returned error reports
// failures of the steps around the job; the job's own result is the outcome.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig, reporter job.Reporter) (models.Outcome, error) {
	startTime := time.Now()
	runID := s.newRunID()
	logger := s.logger.With().Str("run_id", runID).Logger()

	logger.Info().
		Str("plan", cfg.Plan.Name).
		Str("destination", cfg.Destination.Path).
		Msg("starting backup run")

	var outcome models.Outcome
	summary := report.NewSummary()
	var tally models.ErrorTally

	if cfg.Telegram != nil {
		defer func() {
			s.sendNotification(ctx, logger, cfg, runID, startTime, outcome, summary.Progress(), tally)
		}()
	}

	if cfg.WOL != nil {
		if err := s.runWOL(ctx, logger, cfg.WOL, cfg.Destination.Path); err != nil {
			outcome = models.Outcome{Kind: models.ErrorWithoutLog, Message: err.Error()}
			return outcome, err
		}
	}

	lf := s.openLog(cfg.Destination.LogFile)
	defer func() {
		if err := lf.Close(); err != nil {
			logger.Warn().Err(err).Str("path", lf.Path()).Msg("failed to close run log")
		}
	}()

	j := job.New(logger, s.procs,
		report.NewMulti(report.NewLog(logger), summary, reporter),
		models.JobRequest{
			Destination: cfg.Destination.Path,
			Plan:        &cfg.Plan,
			Log:         lf,
			LogFilePath: lf.Path(),
		},
		job.Options{
			Tool:             bup.NewTool(cfg.Tools.Bup),
			SnapshotName:     cfg.Tools.SnapshotName,
			HarmlessPrefixes: cfg.Tools.HarmlessErrorPrefixes,
			ProgressInterval: cfg.Progress.Interval,
		})

	s.setJob(j)
	outcome = j.Run(ctx)
	tally = j.Tally()
	s.setJob(nil)

	var runErr error
	if cfg.Remote != nil && ctx.Err() == nil && (outcome.Kind == models.Success || cfg.Remote.OnFailure) {
		runErr = s.runRemote(ctx, logger, cfg.Remote)
	}

	logger.Info().
		Stringer("outcome", outcome.Kind).
		Dur("duration", time.Since(startTime)).
		Msg("backup run finished")

	return outcome, runErr
}

// Suspend pauses the running backup job, if any.
func (s *Impl) Suspend() bool {
	j := s.currentJob()
	return j != nil && j.Suspend()
}

// Resume continues a paused backup job, if any.
func (s *Impl) Resume() bool {
	j := s.currentJob()
	return j != nil && j.Resume()
}

// Probe checks whether bup and par2 can be used, without touching the destination.
// par2 only counts as available when bup is.
func (s *Impl) Probe(ctx context.Context, cfg models.BackupConfig) models.ProbeResult {
	tool := bup.NewTool(cfg.Tools.Bup)

	var version, par2 models.StageResult
	var g errgroup.Group
	g.Go(func() error {
		version = s.procs.Run(ctx, tool.Version())
		return nil
	})
	g.Go(func() error {
		par2 = s.procs.Run(ctx, tool.Par2Probe())
		return nil
	})
	_ = g.Wait()

	result := models.ProbeResult{}
	if version.Failed() {
		s.logger.Debug().Err(version.Err).Int("exit_code", version.ExitCode).Msg("bup --version failed")
		return result
	}
	result.BupAvailable = true
	result.BupVersion = strings.TrimSpace(version.Stdout)
	result.Par2Available = !par2.Failed()
	return result
}

func (s *Impl) setJob(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = j
}

func (s *Impl) currentJob() *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *Impl) runWOL(ctx context.Context, logger zerolog.Logger, cfg *models.WOLConfig, destination string) error {
	logger.Info().
		Str("mac", cfg.MACAddress).
		Str("destination", destination).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, *cfg, destination)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}

	if !result.DestinationReady {
		return errors.New("backup destination did not become available after WOL")
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("destination_ready", result.DestinationReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runRemote(ctx context.Context, logger zerolog.Logger, cfg *models.RemoteConfig) error {
	logger.Info().
		Str("host", cfg.Host).
		Str("command", cfg.Command).
		Msg("running remote command")

	result, err := s.remoteSvc.RunCommand(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("remote command failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("remote command failed: %w", result.Error)
	}

	logger.Info().
		Bool("command_run", result.CommandRun).
		Str("output", result.Output).
		Msg("remote command sent")

	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	logger zerolog.Logger,
	cfg models.BackupConfig,
	runID string,
	startTime time.Time,
	outcome models.Outcome,
	progress models.ProgressSnapshot,
	tally models.ErrorTally,
) {
	host, err := s.hostname()
	if err != nil {
		host = "unknown"
	}

	msg := models.TelegramMessage{
		RunID:          runID,
		Plan:           cfg.Plan.Name,
		Host:           host,
		Destination:    cfg.Destination.Path,
		StartTime:      startTime,
		Duration:       time.Since(startTime),
		Outcome:        outcome,
		Progress:       progress,
		HarmlessErrors: tally.HarmlessCount,
	}

	// An aborted run is still reported.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	result, err := s.telegramSvc.SendNotification(notifyCtx, *cfg.Telegram, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	logger.Info().Msg("Telegram notification sent")
}
