package bup

import (
	"bytes"
	"fmt"
	"io"

	"github.com/zero804/kup/internal/models"
)

const kib = 1024

// LineSplitter turns a stream of output chunks into lines. Both '\n' and '\r'
// end a line, since bup redraws its progress line with carriage returns.
type LineSplitter struct {
	partial []byte
}

// Split returns the lines completed by chunk and keeps the rest for later.
func (l *LineSplitter) Split(chunk []byte) []string {
	var lines []string
	data := append(l.partial, chunk...)
	for {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		lines = append(lines, string(data[:i]))
		data = data[i+1:]
	}
	l.partial = append([]byte(nil), data...)
	return lines
}

// Flush returns the incomplete last line, if any.
func (l *LineSplitter) Flush() []string {
	if len(l.partial) == 0 {
		return nil
	}
	line := string(l.partial)
	l.partial = nil
	return []string{line}
}

// Session applies classified save output to the state of one backup run.
type Session struct {
	parser   *Parser
	log      io.Writer
	splitter LineSplitter

	progress models.ProgressSnapshot
	tally    models.ErrorTally

	progressDirty bool
	fileDirty     bool
}

// NewSession creates a session writing loggable lines to log.
func NewSession(parser *Parser, log io.Writer) *Session {
	if log == nil {
		log = io.Discard
	}
	return &Session{parser: parser, log: log}
}

// Feed processes a raw chunk of stderr output.
func (s *Session) Feed(chunk []byte) {
	for _, line := range s.splitter.Split(chunk) {
		s.Apply(line)
	}
}

// Flush processes a trailing line that was not terminated by a newline.
func (s *Session) Flush() {
	for _, line := range s.splitter.Flush() {
		s.Apply(line)
	}
}

// Apply classifies one line and updates the session accordingly.
func (s *Session) Apply(line string) Event {
	ev := s.parser.Classify(line)

	switch ev.Kind {
	case EventProgress:
		s.progress.CopiedBytes = ev.CopiedKiB * kib
		s.progress.TotalBytes = ev.TotalKiB * kib
		s.progress.CopiedFiles = ev.CopiedFiles
		s.progress.TotalFiles = ev.TotalFiles
		s.progress.SpeedBytesPerSec = ev.SpeedKiB * kib
		if ev.TotalKiB > 0 {
			s.progress.Percent = percent(ev.CopiedKiB, ev.TotalKiB)
		}
		s.progressDirty = true
	case EventHarmlessError:
		s.tally.HarmlessCount++
	case EventErrorSummary:
		s.tally.AllErrorsHarmless = ev.ErrorCount == s.tally.HarmlessCount
	case EventFile:
		s.progress.CurrentFile = ev.File
		s.fileDirty = true
	}

	if ev.Logged() {
		_, _ = fmt.Fprintln(s.log, ev.Line)
	}
	return ev
}

// percent is floor(100*copied/total), at least 1 and at most 100. total must not be 0.
func percent(copied, total uint64) uint {
	p := copied * 100 / total
	if p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return uint(p)
}

// Progress returns the latest progress snapshot.
func (s *Session) Progress() models.ProgressSnapshot {
	return s.progress
}

// Tally returns the harmless error tally.
func (s *Session) Tally() models.ErrorTally {
	return s.tally
}

// TakeChanges reports whether progress counters or the current file changed
// since the last call, and clears both flags.
func (s *Session) TakeChanges() (progress, file bool) {
	progress, file = s.progressDirty, s.fileDirty
	s.progressDirty, s.fileDirty = false, false
	return progress, file
}
