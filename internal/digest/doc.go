// Package digest aggregates statistics over the files that survived
// filtering and renders them into one of the output formats.
//
// Rendering is deterministic: the same repository identifier, records
// and format always produce the same bytes.
package digest
