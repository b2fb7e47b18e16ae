// Package job drives one backup run through its stages of external tool processes.
package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/services/bup"
	"github.com/zero804/kup/internal/services/process"
)

// maxParallelism caps the -j value passed to fsck.
const maxParallelism = 4

// Stage descriptions shown to the user.
const (
	descInit         = "Preparing backup destination"
	descVerify       = "Checking backup integrity"
	descIndex        = "Checking what to copy"
	descSave         = "Saving backup"
	descRecoveryInfo = "Generating recovery information"
)

// User facing failure messages.
const (
	msgSuccess         = "Backup completed successfully."
	msgToolMissing     = "The %s program is needed but could not be found, maybe it is not installed?"
	msgInitFailed      = "Backup destination could not be initialised. See log file for more details."
	msgIntegrityFailed = "Failed backup integrity check. Your backups could be corrupted! See log file for more details."
	msgSuggestRepair   = " Do you want to try repairing the backup files?"
	msgIndexFailed     = "Failed to analyze files. See log file for more details."
	msgSaveFailed      = "Failed to save backup. See log file for more details."
	msgRecoveryFailed  = "Failed to generate recovery information for the backup. See log file for more details."
	msgAborted         = "The backup was aborted. See log file for more details."
)

const par2Executable = "par2"

// eventBuffer lets process goroutines run ahead of the Run loop a little.
const eventBuffer = 16

// Reporter receives the user visible events of a job. All calls are made
// from the goroutine executing Run.
type Reporter interface {
	StageChanged(description, currentFile string)
	ProgressChanged(p models.ProgressSnapshot)
	Finished(o models.Outcome)
}

// Options tune a job.
type Options struct {
	Tool             bup.Tool
	SnapshotName     string
	HarmlessPrefixes []string
	ProgressInterval time.Duration    // DefaultProgressInterval when zero
	Parallelism      int              // min(4, GOMAXPROCS) when zero
	Fs               afero.Fs         // used to check the exclude file, OS filesystem when nil
	Now              func() time.Time // time.Now when nil
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateFinished
)

type eventKind int

const (
	eventStderr eventKind = iota
	eventFinished
)

type event struct {
	kind   eventKind
	stage  models.Stage
	result models.StageResult
}

// Job runs the backup pipeline once. Suspend, Resume and Abort may be called
// from any goroutine while Run is executing.
type Job struct {
	logger   zerolog.Logger
	procs    process.Service
	reporter Reporter
	req      models.JobRequest
	opts     Options

	events    chan event
	abort     chan struct{}
	abortOnce sync.Once
	cancelRun context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	state   state
	stage   models.Stage
	active  process.Handle
	outcome models.Outcome

	// Owned by the Run goroutine.
	log     io.Writer
	session *bup.Session
	limiter *Limiter
}

// New creates a job for one backup request.
func New(logger zerolog.Logger, procs process.Service, reporter Reporter, req models.JobRequest, opts Options) *Job {
	if opts.Tool.Path == "" {
		opts.Tool = bup.NewTool("")
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = min(maxParallelism, runtime.GOMAXPROCS(0))
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := req.Log
	if log == nil {
		log = io.Discard
	}
	if req.Plan == nil {
		req.Plan = &models.BackupPlan{}
	}

	return &Job{
		logger:   logger,
		procs:    procs,
		reporter: reporter,
		req:      req,
		opts:     opts,
		events:   make(chan event, eventBuffer),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
		session:  bup.NewSession(bup.NewParser(opts.HarmlessPrefixes...), log),
		limiter:  NewLimiter(opts.Now),
	}
}

// Run executes the pipeline and returns its outcome. A second call returns
// the outcome of the first one without launching anything.
func (j *Job) Run(ctx context.Context) models.Outcome {
	j.mu.Lock()
	if j.state != stateIdle {
		j.mu.Unlock()
		<-j.done
		return j.Outcome()
	}
	// Abort cancels ctx so that a blocking tool check ends as well.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.state = stateRunning
	j.cancelRun = cancel
	j.mu.Unlock()

	j.logger.Info().
		Str("destination", j.req.Destination).
		Strs("paths", j.req.Plan.PathsIncluded).
		Msg("Starting backup job")

	o := j.run(ctx)
	j.finish(o)
	return o
}

// Outcome returns the outcome of a finished run, or the zero value before that.
func (j *Job) Outcome() models.Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Tally returns the harmless error tally of the save stage. It is only
// meaningful once Run has returned.
func (j *Job) Tally() models.ErrorTally {
	<-j.done
	return j.session.Tally()
}

// Stage returns the stage currently executing.
func (j *Job) Stage() models.Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

// Suspend stops the active stage process. It returns false when no process is active.
func (j *Job) Suspend() bool {
	return j.signalActive(process.SignalStop)
}

// Resume continues a suspended stage process. It returns false when no process is active.
func (j *Job) Resume() bool {
	return j.signalActive(process.SignalContinue)
}

// Abort terminates the active process and ends the run. It returns false when
// the job is not running.
func (j *Job) Abort() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != stateRunning {
		return false
	}
	j.abortOnce.Do(func() { close(j.abort) })
	j.cancelRun()
	if j.active != nil {
		if err := j.active.Signal(process.SignalTerminate); err != nil {
			j.logger.Debug().Err(err).Msg("terminating stage process")
		}
	}
	return true
}

func (j *Job) signalActive(sig process.Signal) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != stateRunning || j.active == nil {
		return false
	}
	if err := j.active.Signal(sig); err != nil {
		j.logger.Warn().Err(err).Stringer("signal", sig).Stringer("stage", j.stage).Msg("Could not signal stage process")
		return false
	}
	j.logger.Info().Stringer("signal", sig).Stringer("stage", j.stage).Msg("Signaled stage process")
	return true
}

func (j *Job) run(ctx context.Context) models.Outcome {
	if o, ok := j.preflight(ctx); !ok {
		return o
	}

	j.writeLog("Kup is starting bup backup job at %s\n\n", j.opts.Now().Format(time.RFC1123))
	j.startStage(ctx, models.StagePreflight, descInit, j.opts.Tool.Init(j.req.Destination))

	for {
		select {
		case <-ctx.Done():
			return j.aborted(ctx.Err().Error())
		case <-j.abort:
			return j.aborted("abort requested")
		case ev := <-j.events:
			if reason, ok := j.interrupted(ctx); ok {
				return j.aborted(reason)
			}
			if ev.stage != j.Stage() {
				continue
			}
			switch ev.kind {
			case eventStderr:
				if ev.stage == models.StageSave {
					j.readSaveOutput()
				}
			case eventFinished:
				if o, done := j.stageFinished(ctx, ev.stage, ev.result); done {
					return o
				}
			}
		}
	}
}

// preflight checks that the tools can be launched. Nothing is logged before it passes.
func (j *Job) preflight(ctx context.Context) (models.Outcome, bool) {
	j.setStage(models.StagePreflight)

	res := j.procs.Run(ctx, j.opts.Tool.Par2Probe())
	if reason, ok := j.interrupted(ctx); ok {
		return j.aborted(reason), false
	}

	if res.ExitCode < 0 {
		j.logger.Error().Err(res.Err).Str("tool", j.opts.Tool.Path).Msg("Archive tool could not be run")
		return toolMissing(j.opts.Tool.Path), false
	}
	if j.req.Plan.GenerateRecoveryInfo && res.ExitCode != 0 {
		j.logger.Error().Int("exit_code", res.ExitCode).Msg("Recovery tool is not available")
		return toolMissing(par2Executable), false
	}
	return models.Outcome{}, true
}

// interrupted reports whether the run was aborted or its context is done.
func (j *Job) interrupted(ctx context.Context) (string, bool) {
	select {
	case <-j.abort:
		return "abort requested", true
	default:
	}
	if err := ctx.Err(); err != nil {
		return err.Error(), true
	}
	return "", false
}

// startStage launches the process of stage. Once the run is interrupted it
// launches nothing and the Run loop ends the run instead.
func (j *Job) startStage(ctx context.Context, stage models.Stage, desc string, cmd process.Command) {
	if _, ok := j.interrupted(ctx); ok {
		return
	}
	j.writeLog("%s\n", cmd)
	j.setStage(stage)
	j.logger.Debug().Stringer("stage", stage).Str("command", cmd.String()).Msg("Starting stage")

	h := j.procs.Start(ctx, cmd, process.Handlers{
		Started: func(int) {
			j.reporter.StageChanged(desc, "")
		},
		Stderr: func() {
			j.post(event{kind: eventStderr, stage: stage})
		},
		Finished: func(res models.StageResult) {
			j.post(event{kind: eventFinished, stage: stage, result: res})
		},
	})

	j.mu.Lock()
	j.active = h
	j.mu.Unlock()
}

// post hands an event to the Run goroutine, or drops it once the run is over.
func (j *Job) post(ev event) {
	select {
	case j.events <- ev:
	case <-j.done:
	}
}

func (j *Job) stageFinished(ctx context.Context, stage models.Stage, res models.StageResult) (models.Outcome, bool) {
	j.mu.Lock()
	h := j.active
	j.active = nil
	j.mu.Unlock()

	if res.ExitCode == process.ExitNotStarted {
		j.logger.Error().Err(res.Err).Stringer("stage", stage).Msg("Stage process could not be started")
		return toolMissing(j.opts.Tool.Path), true
	}

	if stage == models.StageSave {
		if h != nil {
			j.session.Feed(h.ReadStderr())
		}
		j.session.Flush()
		j.emitProgress()
	} else if res.Stderr != "" {
		j.writeLog("%s", res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			j.writeLog("\n")
		}
	}
	if res.ExitKind == models.ExitCrashed {
		j.writeLog("Process did not exit normally.\n")
	}
	j.writeLog("Exit code: %d\n", res.ExitCode)

	j.logger.Info().
		Stringer("stage", stage).
		Int("exit_code", res.ExitCode).
		Stringer("exit_kind", res.ExitKind).
		Msg("Stage finished")

	switch stage {
	case models.StagePreflight:
		if res.Failed() {
			return j.failed(models.ErrorWithLog, models.FailureInit, msgInitFailed, "failed to initialize backup destination"), true
		}
		if j.req.Plan.VerifyIntegrity {
			j.startStage(ctx, models.StageVerify, descVerify, j.opts.Tool.Fsck(j.req.Destination, j.opts.Parallelism))
		} else {
			j.startIndex(ctx)
		}

	case models.StageVerify:
		if res.Failed() {
			if j.req.Plan.GenerateRecoveryInfo {
				return j.failed(models.ErrorSuggestRepair, models.FailureIntegrityCheck, msgIntegrityFailed+msgSuggestRepair, "failed integrity check"), true
			}
			return j.failed(models.ErrorWithLog, models.FailureIntegrityCheck, msgIntegrityFailed, "failed integrity check"), true
		}
		j.startIndex(ctx)

	case models.StageIndex:
		if res.Failed() {
			return j.failed(models.ErrorWithLog, models.FailureIndexing, msgIndexFailed, "failed to index files"), true
		}
		j.limiter.Expire()
		j.startStage(ctx, models.StageSave, descSave,
			j.opts.Tool.Save(j.req.Destination, j.opts.SnapshotName, j.req.Plan.PathsIncluded))

	case models.StageSave:
		if res.Failed() {
			if !j.session.Tally().AllErrorsHarmless {
				return j.failed(models.ErrorWithLog, models.FailureSave, msgSaveFailed, "failed to save backup"), true
			}
			j.writeLog("Only harmless errors detected by bup.\n")
		}
		if !j.req.Plan.GenerateRecoveryInfo {
			return j.succeeded(), true
		}
		j.startStage(ctx, models.StageRecoveryInfo, descRecoveryInfo,
			j.opts.Tool.RecoveryInfo(j.req.Destination, j.opts.Parallelism))

	case models.StageRecoveryInfo:
		if res.Failed() {
			return j.failed(models.ErrorWithLog, models.FailureRecoveryInfo, msgRecoveryFailed, "failed to generate recovery info"), true
		}
		return j.succeeded(), true
	}
	return models.Outcome{}, false
}

func (j *Job) startIndex(ctx context.Context) {
	j.startStage(ctx, models.StageIndex, descIndex,
		j.opts.Tool.Index(j.req.Destination, j.req.Plan, j.excludeFile()))
}

// excludeFile returns the configured exclude pattern file if it exists.
func (j *Job) excludeFile() string {
	path := j.req.Plan.ExcludePatternsFile
	if path == "" {
		return ""
	}
	if _, err := j.opts.Fs.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("path", path).Msg("Could not check exclude pattern file")
		}
		return ""
	}
	return path
}

// readSaveOutput feeds new save output to the session and reports changes,
// at most once per progress interval.
func (j *Job) readSaveOutput() {
	j.mu.Lock()
	h := j.active
	j.mu.Unlock()
	if h == nil {
		return
	}

	j.session.Feed(h.ReadStderr())
	if !j.limiter.HasElapsed(j.opts.ProgressInterval) {
		return
	}
	j.emitProgress()
}

func (j *Job) emitProgress() {
	progress, file := j.session.TakeChanges()
	if !progress && !file {
		return
	}
	snap := j.session.Progress()
	if progress {
		j.reporter.ProgressChanged(snap)
	}
	if file {
		j.reporter.StageChanged(descSave, snap.CurrentFile)
	}
	j.limiter.Reset()
}

func (j *Job) aborted(reason string) models.Outcome {
	j.mu.Lock()
	h := j.active
	j.active = nil
	stage := j.stage
	j.mu.Unlock()

	if h != nil {
		if err := h.Signal(process.SignalTerminate); err != nil {
			j.logger.Debug().Err(err).Msg("terminating stage process")
		}
	}
	j.logger.Warn().Str("reason", reason).Stringer("stage", stage).Msg("Backup job aborted")
	return j.failed(models.ErrorWithLog, models.FailureAborted, msgAborted, "aborted during "+stage.String())
}

func (j *Job) failed(kind models.OutcomeKind, failure models.Failure, msg, trailer string) models.Outcome {
	j.writeLog("\n=== Backup job failed: %s ===\n", trailer)
	return models.Outcome{
		Kind:        kind,
		Failure:     failure,
		Message:     msg,
		LogFilePath: j.req.LogFilePath,
	}
}

func (j *Job) succeeded() models.Outcome {
	j.writeLog("\n=== Backup job completed successfully at %s ===\n", j.opts.Now().Format(time.RFC1123))
	return models.Outcome{
		Kind:        models.Success,
		Message:     msgSuccess,
		LogFilePath: j.req.LogFilePath,
	}
}

func toolMissing(tool string) models.Outcome {
	return models.Outcome{
		Kind:    models.ErrorWithoutLog,
		Failure: models.FailureToolMissing,
		Message: fmt.Sprintf(msgToolMissing, tool),
	}
}

func (j *Job) finish(o models.Outcome) {
	j.mu.Lock()
	j.state = stateFinished
	j.stage = models.StageNone
	j.active = nil
	j.outcome = o
	j.mu.Unlock()
	close(j.done)

	evt := j.logger.Info()
	if o.Kind != models.Success {
		evt = j.logger.Error().Err(o.Err())
	}
	evt.Stringer("outcome", o.Kind).Str("log_file", o.LogFilePath).Msg("Backup job finished")

	j.reporter.Finished(o)
}

func (j *Job) setStage(stage models.Stage) {
	j.mu.Lock()
	j.stage = stage
	j.mu.Unlock()
}

func (j *Job) writeLog(format string, args ...any) {
	if _, err := fmt.Fprintf(j.log, format, args...); err != nil {
		j.logger.Debug().Err(err).Msg("writing run log")
	}
}
