// Package report turns job events into operational log output and run summaries.
package report

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/services/job"
)

// Log writes job events through zerolog. Repeated stage descriptions and
// unchanged percentages are not logged again.
type Log struct {
	logger zerolog.Logger

	mu          sync.Mutex
	lastStage   string
	lastPercent uint
}

// NewLog creates a reporter logging to logger.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) StageChanged(description, currentFile string) {
	l.mu.Lock()
	changed := description != l.lastStage
	l.lastStage = description
	l.mu.Unlock()

	if changed {
		l.logger.Info().Str("stage", description).Msg("Backup stage started")
	}
	if currentFile != "" {
		l.logger.Debug().Str("file", currentFile).Msg("Saving file")
	}
}

func (l *Log) ProgressChanged(p models.ProgressSnapshot) {
	l.mu.Lock()
	changed := p.Percent != l.lastPercent
	l.lastPercent = p.Percent
	l.mu.Unlock()

	if !changed {
		return
	}
	l.logger.Info().
		Uint("percent", p.Percent).
		Uint64("copied_files", p.CopiedFiles).
		Uint64("total_files", p.TotalFiles).
		Uint64("copied_bytes", p.CopiedBytes).
		Uint64("total_bytes", p.TotalBytes).
		Uint64("bytes_per_sec", p.SpeedBytesPerSec).
		Msg("Backup progress")
}

func (l *Log) Finished(o models.Outcome) {
	if o.Kind == models.Success {
		l.logger.Info().Str("log_file", o.LogFilePath).Msg(o.Message)
		return
	}
	evt := l.logger.Error().
		Stringer("outcome", o.Kind).
		Stringer("failure", o.Failure)
	if o.LogFilePath != "" {
		evt = evt.Str("log_file", o.LogFilePath)
	}
	evt.Msg(o.Message)
}

// Summary keeps the latest state of a run for notifications after it ended.
type Summary struct {
	mu       sync.Mutex
	stage    string
	progress models.ProgressSnapshot
	outcome  models.Outcome
	finished bool
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{}
}

func (s *Summary) StageChanged(description, currentFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = description
	if currentFile != "" {
		s.progress.CurrentFile = currentFile
	}
}

func (s *Summary) ProgressChanged(p models.ProgressSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

func (s *Summary) Finished(o models.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
	s.finished = true
}

// Stage returns the last stage description.
func (s *Summary) Stage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Progress returns the last progress snapshot.
func (s *Summary) Progress() models.ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Outcome returns the outcome and whether the run has finished.
func (s *Summary) Outcome() (models.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.finished
}

// Multi forwards every event to each of its reporters in order.
type Multi []job.Reporter

// NewMulti combines reporters, skipping nil ones.
func NewMulti(reporters ...job.Reporter) Multi {
	m := make(Multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) StageChanged(description, currentFile string) {
	for _, r := range m {
		r.StageChanged(description, currentFile)
	}
}

func (m Multi) ProgressChanged(p models.ProgressSnapshot) {
	for _, r := range m {
		r.ProgressChanged(p)
	}
}

func (m Multi) Finished(o models.Outcome) {
	for _, r := range m {
		r.Finished(o)
	}
}

var (
	_ job.Reporter = (*Log)(nil)
	_ job.Reporter = (*Summary)(nil)
	_ job.Reporter = Multi(nil)
)
