package bup

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultHarmlessPrefixes are the stderr prefixes of per-file errors that do not
// compromise a backup, such as a file vanishing between indexing and saving.
var DefaultHarmlessPrefixes = []string{"[Errno 2]"}

var noisePrefixes = []string{"Reading index:", "bloom:", "midx:"}

const (
	progressPrefix = "Saving:"
	warningPrefix  = "WARNING:"
)

var (
	progressRe     = regexp.MustCompile(`(\d+)/(\d+)k, (\d+)/(\d+) files\) \S* (?:(\d+)k/s|)`)
	errorSummaryRe = regexp.MustCompile(`^WARNING: (\d+) errors encountered while saving\.`)
	fileRecordRe   = regexp.MustCompile(`^ ?[ AM] /(.*)$`)
	deleteRecordRe = regexp.MustCompile(`^ ?D /`)
)

// EventKind classifies one line of bup output.
type EventKind int

// Event kinds, in the order lines are tested against them.
const (
	EventNoise EventKind = iota
	EventProgress
	EventHarmlessError
	EventErrorSummary
	EventFile
	EventDeleted
	EventLog
)

func (k EventKind) String() string {
	switch k {
	case EventNoise:
		return "noise"
	case EventProgress:
		return "progress"
	case EventHarmlessError:
		return "harmless_error"
	case EventErrorSummary:
		return "error_summary"
	case EventFile:
		return "file"
	case EventDeleted:
		return "deleted"
	default:
		return "log"
	}
}

// Event is a classified output line.
type Event struct {
	Kind EventKind
	Line string

	// Set for EventProgress. Sizes are in KiB, as bup reports them.
	CopiedKiB   uint64
	TotalKiB    uint64
	CopiedFiles uint64
	TotalFiles  uint64
	SpeedKiB    uint64

	// Set for EventFile, without the leading slash.
	File string

	// Set for EventErrorSummary.
	ErrorCount uint
}

// Logged reports whether the line belongs in the run log.
func (e Event) Logged() bool {
	switch e.Kind {
	case EventHarmlessError, EventErrorSummary, EventLog:
		return true
	default:
		return false
	}
}

// Parser classifies bup save output lines. It holds no per-run state.
type Parser struct {
	harmless []string
}

// NewParser creates a parser recognizing the given harmless error prefixes,
// or DefaultHarmlessPrefixes when none are given.
func NewParser(harmlessPrefixes ...string) *Parser {
	if len(harmlessPrefixes) == 0 {
		harmlessPrefixes = DefaultHarmlessPrefixes
	}
	return &Parser{harmless: append([]string(nil), harmlessPrefixes...)}
}

// Classify classifies a single line, without any trailing newline.
func (p *Parser) Classify(line string) Event {
	ev := Event{Kind: EventLog, Line: line}

	if line == "" || hasAnyPrefix(line, noisePrefixes) {
		ev.Kind = EventNoise
		return ev
	}

	if strings.HasPrefix(line, progressPrefix) {
		ev.Kind = EventNoise
		m := progressRe.FindStringSubmatch(line)
		if m != nil {
			ev.Kind = EventProgress
			ev.CopiedKiB = parseUint(m[1])
			ev.TotalKiB = parseUint(m[2])
			ev.CopiedFiles = parseUint(m[3])
			ev.TotalFiles = parseUint(m[4])
			ev.SpeedKiB = parseUint(m[5])
		}
		return ev
	}

	if hasAnyPrefix(line, p.harmless) {
		ev.Kind = EventHarmlessError
		return ev
	}

	if strings.HasPrefix(line, warningPrefix) {
		if m := errorSummaryRe.FindStringSubmatch(line); m != nil {
			ev.Kind = EventErrorSummary
			ev.ErrorCount = uint(parseUint(m[1]))
		}
		return ev
	}

	if m := fileRecordRe.FindStringSubmatch(line); m != nil {
		ev.Kind = EventFile
		ev.File = m[1]
		return ev
	}

	if deleteRecordRe.MatchString(line) {
		ev.Kind = EventDeleted
	}
	return ev
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// parseUint returns 0 for empty or malformed input.
func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
