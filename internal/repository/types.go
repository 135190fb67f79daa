package repository

import (
	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/filter"
)

// Request asks for a digest of one repository.
type Request struct {
	// URL locates the repository. It doubles as the identifier in the
	// digest.
	URL string

	// Options are applied as given; callers fill in defaults.
	Options filter.Options

	// Credential is an optional access token, sent only to the
	// repository host.
	Credential config.Secret

	// Private marks a repository that needs Credential.
	Private bool
}

// Outcome labels for request metrics.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeFetch   = "fetch_error"
	OutcomeError   = "error"
)

// Stage names for spans and duration metrics.
const (
	StageFetch   = "fetch"
	StageCollect = "collect"
	StageRender  = "render"
)
