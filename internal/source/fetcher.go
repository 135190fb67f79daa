package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/secrets"
)

// Fetcher obtains a local copy of a source.
type Fetcher interface {
	// Fetch materializes src into dir, which must exist and be empty.
	Fetch(ctx context.Context, src *Source, dir string) error
}

// GitFetcher clones over HTTP(S) with go-git. It only ever performs a
// single shallow clone of the default branch.
type GitFetcher struct {
	scrubber secrets.Scrubber
}

// NewGitFetcher returns a GitFetcher. Clone errors are passed through
// scrubber; nil means the default rules.
func NewGitFetcher(scrubber secrets.Scrubber) *GitFetcher {
	if scrubber == nil {
		scrubber = secrets.MustNew(nil)
	}
	return &GitFetcher{scrubber: scrubber}
}

// Fetch performs a depth-1, single-branch clone without tags. Failures
// wrap ErrFetch and never contain the credential.
func (f *GitFetcher) Fetch(ctx context.Context, src *Source, dir string) error {
	opts := &git.CloneOptions{
		URL:          src.URL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if src.Credential.IsSet() {
		opts.Auth = &githttp.BasicAuth{
			Username: TokenUsername(src.Host),
			Password: src.Credential.Value(),
		}
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return fmt.Errorf("%w: %w", ErrFetch, ctxErr)
		}
		return &FetchError{msg: f.scrub(err.Error(), src.Credential)}
	}
	return nil
}

func (f *GitFetcher) scrub(msg string, credential config.Secret) string {
	if credential.IsSet() {
		msg = strings.ReplaceAll(msg, credential.Value(), "[REDACTED]")
	}
	return f.scrubber.Scrub(msg).Scrubbed
}

// FetchError is a scrubbed clone failure. It matches ErrFetch.
type FetchError struct {
	msg string
}

func (e *FetchError) Error() string { return ErrFetch.Error() + ": " + e.msg }

// Is reports ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

var _ Fetcher = (*GitFetcher)(nil)
