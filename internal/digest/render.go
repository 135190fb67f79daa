package digest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/repodigest/internal/filter"
)

// ErrSerialization wraps failures to encode a result.
var ErrSerialization = errors.New("serialization failed")

// FileEntry is a file in the structured format.
type FileEntry struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
}

// Result is a rendered digest. Structured results carry Files; the text
// formats carry Content.
type Result struct {
	Format     string
	Repository string
	Stats      Stats
	Content    string
	Files      []FileEntry
}

type structuredDoc struct {
	Repository string      `json:"repository"`
	Stats      Stats       `json:"stats"`
	Files      []FileEntry `json:"files"`
}

type textDoc struct {
	Repository string `json:"repository"`
	Stats      Stats  `json:"stats"`
	Content    string `json:"content"`
}

// Render aggregates records and encodes them in format. Unknown formats
// are an ErrSerialization.
func Render(repository string, records []FileRecord, format string) (*Result, error) {
	canonical, ok := filter.NormalizeFormat(format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown output format %q", ErrSerialization, format)
	}

	res := &Result{
		Format:     canonical,
		Repository: repository,
		Stats:      Aggregate(records),
	}
	switch canonical {
	case filter.FormatStructured:
		res.Files = make([]FileEntry, 0, len(records))
		for _, r := range records {
			res.Files = append(res.Files, FileEntry{
				Path:     r.Path,
				Content:  r.Content,
				Language: r.Language,
				Size:     r.Size,
			})
		}
	case filter.FormatPlaintext:
		res.Content = plaintext(records)
	default:
		res.Content = markdown(repository, res.Stats, records)
	}
	return res, nil
}

func (r *Result) document() any {
	stats := r.Stats
	if stats.Languages == nil {
		stats.Languages = []string{}
	}
	if r.Format == filter.FormatStructured {
		files := r.Files
		if files == nil {
			files = []FileEntry{}
		}
		return structuredDoc{Repository: r.Repository, Stats: stats, Files: files}
	}
	return textDoc{Repository: r.Repository, Stats: stats, Content: r.Content}
}

// Encode returns the JSON document for r: repository, stats, then files
// or content. HTML characters in file contents are left unescaped.
func (r *Result) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.document()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MarshalJSON implements json.Marshaler with the Encode layout.
func (r *Result) MarshalJSON() ([]byte, error) {
	return r.Encode()
}

// Body is what a caller hands to a user: the JSON document for
// structured results and the rendered text otherwise.
func (r *Result) Body() ([]byte, error) {
	if r.Format == filter.FormatStructured {
		return r.Encode()
	}
	return []byte(r.Content), nil
}

func plaintext(records []FileRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r.Path, r.Content)
	}
	return b.String()
}

func markdown(repository string, s Stats, records []FileRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Repository: %s\n\n", repository)
	b.WriteString("## Statistics\n")
	fmt.Fprintf(&b, "- **Total Files**: %d\n", s.TotalFiles)
	fmt.Fprintf(&b, "- **Total Size**: %s\n", FormatKB(s.TotalSize))
	fmt.Fprintf(&b, "- **Languages**: %s\n", strings.Join(s.Languages, ", "))
	fmt.Fprintf(&b, "- **Test Files**: %d\n", s.TestFiles)
	fmt.Fprintf(&b, "- **Documentation Files**: %d\n\n", s.DocFiles)
	b.WriteString("## Files\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "### %s\n\n```%s\n%s\n```\n\n", r.Path, r.Language, r.Content)
	}
	return b.String()
}

// FormatKB renders a byte count in kilobytes with two decimals.
func FormatKB(size int64) string {
	return fmt.Sprintf("%.2f KB", float64(size)/1024)
}
