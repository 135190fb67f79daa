// Package filter decides which repository files make it into a digest.
package filter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/repodigest/internal/classify"
)

// Output formats.
const (
	FormatStructured = "structured"
	FormatPlaintext  = "plaintext"
	FormatMarkdown   = "markdown"
)

// Smart filter bounds, in decoded characters.
const (
	MinContentLength = 10
	MaxContentLength = 50000
	headLength       = 500
)

// Reason explains a verdict.
type Reason string

const (
	ReasonAccepted  Reason = "accepted"
	ReasonSize      Reason = "size"
	ReasonBinary    Reason = "binary"
	ReasonTest      Reason = "test"
	ReasonDoc       Reason = "doc"
	ReasonTooShort  Reason = "too_short"
	ReasonTooLong   Reason = "too_long"
	ReasonGenerated Reason = "generated"
)

// Verdict is the outcome of a filter check. A rejection is a normal
// outcome, never an error.
type Verdict struct {
	Keep   bool
	Reason Reason
}

var accepted = Verdict{Keep: true, Reason: ReasonAccepted}

func reject(r Reason) Verdict { return Verdict{Reason: r} }

// Options controls one pipeline run.
type Options struct {
	IncludeTests  bool   `json:"includeTests"`
	IncludeDocs   bool   `json:"includeDocs"`
	SmartFilter   bool   `json:"smartFilter"`
	MaxFileSize   int64  `json:"maxFileSize"`
	OutputFormat  string `json:"outputFormat"`
	RedactSecrets bool   `json:"redactSecrets"`
}

// NormalizeFormat maps format names, including the json and text
// aliases, onto the canonical set. Empty means markdown. The second
// result is false for unknown names.
func NormalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatMarkdown:
		return FormatMarkdown, true
	case FormatStructured, "json":
		return FormatStructured, true
	case FormatPlaintext, "text":
		return FormatPlaintext, true
	default:
		return "", false
	}
}

var generatedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)generated`),
	regexp.MustCompile(`(?i)auto-generated`),
	regexp.MustCompile(`(?i)do not edit`),
	regexp.MustCompile(`\.min\.js$`),
	regexp.MustCompile(`\.bundle\.js$`),
}

// Engine applies Options to candidate files. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine for opts.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options { return e.opts }

// Admit runs the checks that need only metadata, in order: size,
// binary, tests, docs. Callers must not read a file Admit rejects.
func (e *Engine) Admit(relPath string, size int64) Verdict {
	if size > e.opts.MaxFileSize {
		return reject(ReasonSize)
	}
	if classify.IsBinary(relPath) {
		return reject(ReasonBinary)
	}
	if !e.opts.IncludeTests && classify.IsTest(relPath) {
		return reject(ReasonTest)
	}
	if !e.opts.IncludeDocs && classify.IsDoc(relPath) {
		return reject(ReasonDoc)
	}
	return accepted
}

// Accept runs the smart filter over decoded content. It always keeps
// the file when SmartFilter is off.
func (e *Engine) Accept(relPath, content string) Verdict {
	if !e.opts.SmartFilter {
		return accepted
	}
	n := utf8.RuneCountInString(content)
	if n < MinContentLength {
		return reject(ReasonTooShort)
	}
	if n > MaxContentLength {
		return reject(ReasonTooLong)
	}
	if looksGenerated(relPath) || looksGenerated(head(content, headLength)) {
		return reject(ReasonGenerated)
	}
	return accepted
}

// Decode turns raw file bytes into text, replacing invalid UTF-8
// sequences with U+FFFD.
func Decode(raw []byte) string {
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

func looksGenerated(s string) bool {
	for _, re := range generatedPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// head returns the first n characters of s.
func head(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
