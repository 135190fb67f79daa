// Package source validates repository locators and fetches shallow
// copies of them.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/repodigest/internal/config"
)

var (
	// ErrInvalidSource is returned before any I/O for locators that fail
	// validation.
	ErrInvalidSource = errors.New("invalid repository URL")

	// ErrFetch wraps every clone failure.
	ErrFetch = errors.New("failed to fetch repository")
)

// DefaultAllowedHosts are the hosts accepted when none are configured.
var DefaultAllowedHosts = []string{"github.com", "gitlab.com", "bitbucket.org"}

// Source is a validated repository locator.
type Source struct {
	// URL is the locator as submitted, minus surrounding whitespace. It
	// is the repository identifier in digests.
	URL        string
	Host       string
	Owner      string
	Name       string
	Credential config.Secret
	Private    bool
}

// String returns the repository identifier. It never includes the
// credential.
func (s *Source) String() string { return s.URL }

// Parse validates raw against allowedHosts (DefaultAllowedHosts when
// empty). The scheme must be http or https and the path must name at
// least an owner and a repository. Locators with embedded userinfo are
// rejected, as are private sources without a credential.
func Parse(raw string, credential config.Secret, private bool, allowedHosts []string) (*Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	u, err := url.Parse(raw)
	if err != nil {
		// url.Error echoes the input, which may carry credentials.
		return nil, fmt.Errorf("%w: malformed", ErrInvalidSource)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials must not be embedded in the URL", ErrInvalidSource)
	}

	host := strings.ToLower(u.Hostname())
	if len(allowedHosts) == 0 {
		allowedHosts = DefaultAllowedHosts
	}
	if !slices.ContainsFunc(allowedHosts, func(h string) bool { return strings.EqualFold(h, host) }) {
		return nil, fmt.Errorf("%w: host %q is not allowed", ErrInvalidSource, host)
	}

	segments := slices.DeleteFunc(strings.Split(u.Path, "/"), func(s string) bool { return s == "" })
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: path must name an owner and a repository", ErrInvalidSource)
	}
	if private && !credential.IsSet() {
		return nil, fmt.Errorf("%w: private repositories need a credential", ErrInvalidSource)
	}

	return &Source{
		URL:        raw,
		Host:       host,
		Owner:      strings.Join(segments[:len(segments)-1], "/"),
		Name:       strings.TrimSuffix(segments[len(segments)-1], ".git"),
		Credential: credential,
		Private:    private,
	}, nil
}

// tokenUsernames are the basic-auth usernames hosts expect alongside an
// access token.
var tokenUsernames = map[string]string{
	"github.com":    "x-access-token",
	"gitlab.com":    "oauth2",
	"bitbucket.org": "x-token-auth",
}

// TokenUsername returns the basic-auth username for tokens on host.
func TokenUsername(host string) string {
	if u, ok := tokenUsernames[strings.ToLower(host)]; ok {
		return u
	}
	return "x-access-token"
}
