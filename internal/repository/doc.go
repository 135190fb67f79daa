// Package repository runs the digest pipeline for one remote repository.
//
// A request flows through these stages, all inside a single ephemeral
// workspace:
//
//	fetch    shallow clone of the default branch (source.Fetcher)
//	collect  walk the tree, filter and read surviving files
//	render   aggregate statistics and encode the digest
//
// The workspace is removed when the request finishes, whatever the
// outcome. Nothing is retained between requests.
//
// # Usage
//
//	svc := repository.NewService(repository.Deps{
//	    Fetcher:    source.NewGitFetcher(nil),
//	    Workspaces: workspace.NewManager("", "", logger),
//	    Logger:     logger,
//	})
//	res, err := svc.Process(ctx, repository.Request{
//	    URL:     "https://github.com/acme/widgets",
//	    Options: filter.Options{SmartFilter: true, MaxFileSize: 51200},
//	})
//
// # Errors
//
// Invalid input wraps ErrInvalidRequest (and source.ErrInvalidSource for
// bad locators) and is detected before any I/O. Clone failures wrap
// source.ErrFetch. Unreadable files and directories are skipped, never
// surfaced.
package repository
