// Package stream turns the raw byte stream of an incremental completion into
// reply segments. It understands the server-sent-event bodies of OpenAI-compatible
// chat completions and of Anthropic message streams without decoding either
// protocol: it only looks for quoted field markers, so it tolerates chunk
// boundaries that fall anywhere, including inside a marker or an escape sequence.
package stream

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSeparator splits one reply into the sub-messages the character sends.
const DefaultSeparator = '|'

// fieldStart matches the opening of a quoted string field. Reply text lives in
// content/text fields; the other names carry role and envelope metadata.
var fieldStart = regexp.MustCompile(`"(content|text|role|finish_reason|type|id|object|model)"\s*:\s*"`)

// A marker never needs more than this many bytes, whitespace included.
const markerWindow = 32

// Segment is one piece of reply text.
type Segment struct {
	Text string
	// Separated reports that the segment ended at the separator, so the next
	// segment starts a new sub-message rather than continuing this one.
	Separated bool
}

type Option func(*Parser)

func WithSeparator(sep rune) Option {
	return func(p *Parser) {
		p.sep = sep
	}
}

// Parser is stateful and must not be shared between turns.
type Parser struct {
	sep       rune
	buf       []byte
	pending   strings.Builder
	discarded int
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{sep: DefaultSeparator}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Write feeds one raw chunk and returns the segments it completed.
func (p *Parser) Write(chunk []byte) []Segment {
	p.buf = append(p.buf, chunk...)

	for {
		loc := fieldStart.FindSubmatchIndex(p.buf)
		if loc == nil {
			p.keepMarkerTail()
			break
		}

		name := string(p.buf[loc[2]:loc[3]])
		valueStart := loc[1]
		end := closingQuote(p.buf, valueStart)
		if end < 0 {
			// Value not complete yet; resume from the marker on the next chunk.
			p.buf = p.buf[loc[0]:]
			break
		}

		raw := p.buf[valueStart:end]
		p.buf = p.buf[end+1:]

		if name != "content" && name != "text" {
			continue
		}

		text, err := unescape(raw)
		if err != nil {
			p.discarded += len(raw)
			continue
		}
		p.pending.WriteString(text)
	}

	p.compact()
	return p.cut()
}

// Flush ends the stream. Pending reply text becomes the final segment; an
// unresolved marker or value left in the buffer is dropped.
func (p *Parser) Flush() []Segment {
	p.discarded += len(p.buf)
	p.buf = nil

	segments := p.cut()
	rest := p.pending.String()
	p.pending.Reset()
	if s, ok := p.segment(rest, false); ok {
		segments = append(segments, s)
	}
	return segments
}

// DiscardedBytes reports how much raw input was dropped as malformed or unresolved.
func (p *Parser) DiscardedBytes() int {
	return p.discarded
}

// cut splits pending text at the separator and at newlines.
func (p *Parser) cut() []Segment {
	var segments []Segment
	text := p.pending.String()
	sepAndNewline := string(p.sep) + "\n"

	for {
		idx := strings.IndexAny(text, sepAndNewline)
		if idx < 0 {
			break
		}
		r, size := utf8.DecodeRuneInString(text[idx:])
		if s, ok := p.segment(text[:idx], r == p.sep); ok {
			segments = append(segments, s)
		}
		text = text[idx+size:]
	}

	p.pending.Reset()
	p.pending.WriteString(text)
	return segments
}

func (p *Parser) segment(text string, separated bool) (Segment, bool) {
	text = trimArtifacts(text)
	if text == "" {
		return Segment{}, false
	}
	return Segment{Text: text, Separated: separated}, true
}

// keepMarkerTail drops scanned bytes but keeps anything that could be the start
// of a marker split across chunks.
func (p *Parser) keepMarkerTail() {
	from := len(p.buf) - markerWindow
	if from < 0 {
		from = 0
	}
	idx := strings.IndexByte(string(p.buf[from:]), '"')
	if idx < 0 {
		p.buf = p.buf[:0]
		return
	}
	p.buf = p.buf[from+idx:]
}

// compact copies the live tail so the backing array does not grow for the
// whole stream.
func (p *Parser) compact() {
	if cap(p.buf) > 4*markerWindow && len(p.buf) < cap(p.buf)/4 {
		p.buf = append([]byte(nil), p.buf...)
	}
}

// closingQuote returns the index of the first unescaped quote at or after start,
// or -1 when the value is still incomplete.
func closingQuote(b []byte, start int) int {
	for i := start; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func unescape(raw []byte) (string, error) {
	quoted := make([]byte, 0, len(raw)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, raw...)
	quoted = append(quoted, '"')

	var s string
	if err := json.Unmarshal(quoted, &s); err != nil {
		return "", err
	}
	return s, nil
}

func trimArtifacts(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, `\`)
	return strings.TrimSpace(s)
}

// Segments lazily parses r. Each call consumes r once; the sequence yields
// segments in stream order and ends with a non-nil error only if reading fails.
func Segments(r io.Reader, opts ...Option) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		p := NewParser(opts...)
		chunk := make([]byte, 4096)

		for {
			n, err := r.Read(chunk)
			if n > 0 {
				for _, s := range p.Write(chunk[:n]) {
					if !yield(s, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Segment{}, err)
				return
			}
		}

		for _, s := range p.Flush() {
			if !yield(s, nil) {
				return
			}
		}
	}
}
