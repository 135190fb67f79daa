package digest

// FileRecord is one file admitted into a digest.
type FileRecord struct {
	// Path is workspace-relative and slash-delimited.
	Path string
	// Content is the decoded text.
	Content string
	// Size is the on-disk size in bytes, not the decoded length.
	Size     int64
	Language string
	IsTest   bool
	IsDoc    bool
}

// Stats summarises a set of records.
type Stats struct {
	TotalFiles int      `json:"totalFiles"`
	TotalSize  int64    `json:"totalSize"`
	Languages  []string `json:"languages"`
	TestFiles  int      `json:"testFiles"`
	DocFiles   int      `json:"docFiles"`
}

// Aggregate computes Stats. Languages are distinct, in order of first
// appearance.
func Aggregate(records []FileRecord) Stats {
	s := Stats{
		TotalFiles: len(records),
		Languages:  []string{},
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		s.TotalSize += r.Size
		if _, ok := seen[r.Language]; !ok {
			seen[r.Language] = struct{}{}
			s.Languages = append(s.Languages, r.Language)
		}
		if r.IsTest {
			s.TestFiles++
		}
		if r.IsDoc {
			s.DocFiles++
		}
	}
	return s
}
