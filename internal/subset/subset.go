// Package subset merges concurrently fetched message payloads into a
// deterministic, verified subset with a manifest describing its layout.
package subset

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

// Message is one fetched grid message, framing intact.
type Message struct {
	Entry      catalog.Entry
	MessageNum int
	Data       []byte
}

// ManifestEntry records where a catalog entry landed in the assembled
// output. Positions are 0-based and need not follow original-file byte
// order, since requested parameters may not be contiguous in the source.
type ManifestEntry struct {
	Position    int    `json:"position"`
	MessageNum  int    `json:"message_number"`
	Ordinal     int    `json:"ordinal"`
	Level       string `json:"level"`
	Param       string `json:"param"`
	Qualifier   string `json:"qualifier"`
	Description string `json:"description"`
	Length      int64  `json:"length"`
}

// Subset is an ordered, verified sequence of messages. Ordering is by
// message number ascending regardless of fetch completion order.
type Subset struct {
	Messages []Message
	// Missing lists requested entries absent from the subset. It is
	// non-empty only in best-effort mode.
	Missing []catalog.Entry
}

// IncompleteError reports the requested entries a subset could not be
// assembled with.
type IncompleteError struct {
	Missing []catalog.Entry
}

func (e *IncompleteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = m.String()
	}
	return fmt.Sprintf("incomplete subset, missing: %s", strings.Join(names, ", "))
}

// Options controls assembly behavior.
type Options struct {
	// BestEffort returns a subset with missing entries reported instead
	// of failing the whole request.
	BestEffort bool
	// VerifyFraming checks each message's self-delimiting framing
	// (GRIB magic and 7777 trailer). Disable for non-GRIB sources.
	VerifyFraming bool
}

var (
	gribMagic   = []byte("GRIB")
	gribTrailer = []byte("7777")
)

// Assemble combines fetched messages into a deterministic subset. Every
// requested entry must appear exactly once with intact framing, or the
// whole subset fails with IncompleteError naming the absentees; in
// best-effort mode the absentees are reported in Subset.Missing instead.
func Assemble(requested []catalog.Entry, fetched []Message, opts Options) (*Subset, error) {
	byOrdinal := make(map[int]Message, len(fetched))
	seen := make(map[int]bool, len(fetched))
	for _, msg := range fetched {
		if seen[msg.MessageNum] {
			return nil, fmt.Errorf("duplicate message number %d in fetched set", msg.MessageNum)
		}
		seen[msg.MessageNum] = true
		if _, dup := byOrdinal[msg.Entry.Ordinal]; dup {
			return nil, fmt.Errorf("entry %s fetched more than once", msg.Entry)
		}
		byOrdinal[msg.Entry.Ordinal] = msg
	}

	sub := &Subset{}
	for _, entry := range requested {
		msg, ok := byOrdinal[entry.Ordinal]
		if ok && opts.VerifyFraming && !framed(msg.Data) {
			ok = false
		}
		if !ok {
			sub.Missing = append(sub.Missing, entry)
			continue
		}
		sub.Messages = append(sub.Messages, msg)
	}

	if len(sub.Missing) > 0 && !opts.BestEffort {
		return nil, &IncompleteError{Missing: sub.Missing}
	}

	sort.Slice(sub.Messages, func(i, j int) bool {
		return sub.Messages[i].MessageNum < sub.Messages[j].MessageNum
	})
	return sub, nil
}

// framed checks the message's self-delimiting markers when the payload
// is long enough to carry them.
func framed(data []byte) bool {
	if len(data) < len(gribMagic)+len(gribTrailer) {
		return true
	}
	return bytes.HasPrefix(data, gribMagic) && bytes.HasSuffix(data, gribTrailer)
}

// Bytes returns the messages concatenated back-to-back, preserving each
// message's framing so the buffer is independently parseable.
func (s *Subset) Bytes() []byte {
	var n int
	for _, m := range s.Messages {
		n += len(m.Data)
	}
	out := make([]byte, 0, n)
	for _, m := range s.Messages {
		out = append(out, m.Data...)
	}
	return out
}

// WriteTo writes the concatenated subset to w.
func (s *Subset) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, m := range s.Messages {
		n, err := w.Write(m.Data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Size returns the total payload length in bytes.
func (s *Subset) Size() int64 {
	var n int64
	for _, m := range s.Messages {
		n += int64(len(m.Data))
	}
	return n
}

// Manifest maps each entry to its position and message number in the
// output. Callers need it because output order need not equal
// original-file order.
func (s *Subset) Manifest() []ManifestEntry {
	manifest := make([]ManifestEntry, len(s.Messages))
	for i, m := range s.Messages {
		manifest[i] = ManifestEntry{
			Position:    i,
			MessageNum:  m.MessageNum,
			Ordinal:     m.Entry.Ordinal,
			Level:       m.Entry.Level,
			Param:       m.Entry.Param,
			Qualifier:   m.Entry.Qualifier,
			Description: m.Entry.Description,
			Length:      int64(len(m.Data)),
		}
	}
	return manifest
}
