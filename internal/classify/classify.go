// Package classify tags repository files by language, binary type, and
// test or documentation membership.
//
// All functions are pure and operate on the workspace-relative,
// slash-delimited path only. They never read file contents.
package classify

import (
	"path"
	"regexp"
	"strings"
)

// DefaultLanguage is the tag for unmapped or absent extensions.
const DefaultLanguage = "text"

// Info is the classification of one file.
type Info struct {
	Language string
	Binary   bool
	Test     bool
	Doc      bool
}

var languages = map[string]string{
	".js":         "javascript",
	".jsx":        "javascript",
	".ts":         "typescript",
	".tsx":        "typescript",
	".py":         "python",
	".java":       "java",
	".c":          "c",
	".cpp":        "cpp",
	".cs":         "csharp",
	".go":         "go",
	".rs":         "rust",
	".php":        "php",
	".rb":         "ruby",
	".swift":      "swift",
	".kt":         "kotlin",
	".scala":      "scala",
	".sh":         "bash",
	".yml":        "yaml",
	".yaml":       "yaml",
	".json":       "json",
	".xml":        "xml",
	".html":       "html",
	".css":        "css",
	".scss":       "scss",
	".md":         "markdown",
	".sql":        "sql",
	".dockerfile": "dockerfile",
}

var binaryExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".ico": true, ".svg": true,
	".pdf": true,
	".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".avi": true,
}

var (
	testPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)test`),
		regexp.MustCompile(`(?i)spec`),
		regexp.MustCompile(`__tests__`),
		regexp.MustCompile(`\.test\.`),
		regexp.MustCompile(`\.spec\.`),
		regexp.MustCompile(`(?i)tests?/`),
		regexp.MustCompile(`(?i)spec/`),
	}

	docPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)readme`),
		regexp.MustCompile(`(?i)\.md$`),
		regexp.MustCompile(`(?i)docs?/`),
		regexp.MustCompile(`(?i)documentation`),
		regexp.MustCompile(`(?i)changelog`),
		regexp.MustCompile(`(?i)license`),
		regexp.MustCompile(`(?i)contributing`),
	}
)

// File classifies relPath.
func File(relPath string) Info {
	return Info{
		Language: Language(relPath),
		Binary:   IsBinary(relPath),
		Test:     IsTest(relPath),
		Doc:      IsDoc(relPath),
	}
}

// Language maps the lower-cased extension of relPath to a language tag.
// "Button.tsx" is typescript, "main.rs" is rust, "notes.xyz" is text.
func Language(relPath string) string {
	if lang, ok := languages[extension(relPath)]; ok {
		return lang
	}
	return DefaultLanguage
}

// IsBinary reports whether relPath has a known binary extension.
func IsBinary(relPath string) bool {
	return binaryExtensions[extension(relPath)]
}

// IsTest reports whether relPath looks like a test file. The match is
// deliberately broad: any "test" or "spec" substring qualifies.
func IsTest(relPath string) bool {
	return matchAny(testPatterns, relPath)
}

// IsDoc reports whether relPath looks like documentation.
func IsDoc(relPath string) bool {
	return matchAny(docPatterns, relPath)
}

func extension(relPath string) string {
	return strings.ToLower(path.Ext(relPath))
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
