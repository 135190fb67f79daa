// Package secrets detects and redacts credentials in text.
//
// The pipeline uses it in two places. Fetch error messages are scrubbed
// with a compact regexp rule table before they are logged. When a request
// sets redactSecrets, file contents are scrubbed with the gitleaks default
// rule set before a digest is serialized. Findings record rule IDs and
// line numbers, never the matched text.
package secrets
