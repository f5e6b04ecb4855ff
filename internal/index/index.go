// Package index parses the plain-text sidecar indexes published next to
// remote grid files and aligns catalog entries with the byte ranges of
// the messages they describe.
package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

// OpenEnd marks the byte range of the final message, whose end is
// unknown until the remote file's total length is probed.
const OpenEnd int64 = -1

// ErrEmptyIndex is returned when an index document yields no usable lines.
var ErrEmptyIndex = errors.New("index contains no usable lines")

// NotFoundInRunError reports a catalog entry that exists but was not
// produced for this particular run or forecast step. This is a
// recoverable caller condition, not a bug.
type NotFoundInRunError struct {
	Entry catalog.Entry
}

func (e *NotFoundInRunError) Error() string {
	return fmt.Sprintf("parameter not found in this run: %s", e.Entry)
}

// Line is one parsed index record.
type Line struct {
	MessageNum  int
	ByteStart   int64
	ByteEnd     int64 // inclusive; OpenEnd for the final message
	Description string
}

// Open reports whether the line's byte range still needs a size probe.
func (l Line) Open() bool { return l.ByteEnd == OpenEnd }

// Index is the parsed form of one sidecar document. It is owned by a
// single resolution and discarded afterwards.
type Index struct {
	Lines   []Line
	Skipped int // malformed lines dropped during parsing
}

// DuplicatePolicy selects which message wins when an index lists the
// same parameter more than once.
type DuplicatePolicy string

const (
	DuplicateFirst DuplicatePolicy = "first" // lowest message number
	DuplicateLast  DuplicatePolicy = "last"  // highest message number
)

// Parse reads a sidecar index document. Records are one per line:
// message number, byte offset, then colon-separated description tokens.
// Malformed lines are skipped with a warning; a document with zero
// usable lines fails with ErrEmptyIndex. Gzip-compressed documents are
// detected by their magic bytes and decoded transparently.
func Parse(r io.Reader, logger *zap.Logger) (*Index, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decoding gzip index: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return parseLines(gz, logger)
	}
	return parseLines(br, logger)
}

func parseLines(r io.Reader, logger *zap.Logger) (*Index, error) {
	idx := &Index{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		line, err := parseLine(text)
		if err != nil {
			idx.Skipped++
			logger.Warn("skipping malformed index line",
				zap.String("line", text),
				zap.Error(err))
			continue
		}
		idx.Lines = append(idx.Lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if len(idx.Lines) == 0 {
		return nil, ErrEmptyIndex
	}

	// byte_end of message i is byte_start of message i+1 minus one. The
	// final message stays open until a size probe closes it.
	for i := range idx.Lines {
		if i+1 < len(idx.Lines) {
			idx.Lines[i].ByteEnd = idx.Lines[i+1].ByteStart - 1
		} else {
			idx.Lines[i].ByteEnd = OpenEnd
		}
	}
	return idx, nil
}

func parseLine(text string) (Line, error) {
	fields := strings.SplitN(text, ":", 3)
	if len(fields) < 3 {
		return Line{}, fmt.Errorf("want at least 3 fields, got %d", len(fields))
	}
	num, err := strconv.Atoi(fields[0])
	if err != nil {
		return Line{}, fmt.Errorf("message number %q: %w", fields[0], err)
	}
	start, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Line{}, fmt.Errorf("byte offset %q: %w", fields[1], err)
	}
	if start < 0 {
		return Line{}, fmt.Errorf("negative byte offset %d", start)
	}
	return Line{MessageNum: num, ByteStart: start, Description: fields[2]}, nil
}

// Resolved pairs a catalog entry with the index line carrying its bytes.
type Resolved struct {
	Entry catalog.Entry
	Line  Line
}

// Match aligns each requested catalog entry with an index line. A line
// matches when its description contains the entry's level, parameter and
// qualifier tokens, order-independent and case-insensitive. Zero matches
// for an entry fail with NotFoundInRunError; multiple matches are
// resolved by policy and logged, since index redundancy is observed in
// practice and is not itself an error.
func (idx *Index) Match(entries []catalog.Entry, policy DuplicatePolicy, logger *zap.Logger) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(entries))
	for _, entry := range entries {
		var matches []Line
		for _, line := range idx.Lines {
			if lineMatches(line, entry) {
				matches = append(matches, line)
			}
		}
		switch {
		case len(matches) == 0:
			return nil, &NotFoundInRunError{Entry: entry}
		case len(matches) > 1:
			pick := matches[0]
			for _, m := range matches[1:] {
				if policy == DuplicateLast && m.MessageNum > pick.MessageNum {
					pick = m
				}
				if policy != DuplicateLast && m.MessageNum < pick.MessageNum {
					pick = m
				}
			}
			logger.Info("index lists parameter more than once",
				zap.String("entry", entry.String()),
				zap.Int("matches", len(matches)),
				zap.Int("picked_message", pick.MessageNum))
			resolved = append(resolved, Resolved{Entry: entry, Line: pick})
		default:
			resolved = append(resolved, Resolved{Entry: entry, Line: matches[0]})
		}
	}
	return resolved, nil
}

func lineMatches(line Line, entry catalog.Entry) bool {
	tokens := strings.Split(line.Description, ":")
	return hasToken(tokens, entry.Param) &&
		hasToken(tokens, entry.Level) &&
		hasToken(tokens, entry.Qualifier)
}

func hasToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if strings.EqualFold(strings.TrimSpace(tok), want) {
			return true
		}
	}
	return false
}
