package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/filter"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/repository"
	"github.com/fyrsmithlabs/repodigest/internal/source"
)

// User-visible error messages. Internal causes are logged, never sent.
const (
	msgInvalidBody    = "invalid request body"
	msgInvalidURL     = "invalid repository URL"
	msgInvalidOptions = "invalid request options"
	msgFetchFailed    = "failed to fetch repository"
	msgProcessing     = "processing failed"
	msgRateLimited    = "rate limit exceeded"
)

// DigestRequest is the request body for POST /api/v1/digest.
type DigestRequest struct {
	URL        string         `json:"url"`
	Options    RequestOptions `json:"options"`
	Credential config.Secret  `json:"credential,omitempty"`
	Private    bool           `json:"private,omitempty"`
}

// RequestOptions mirrors filter.Options with every field optional.
type RequestOptions struct {
	IncludeTests  *bool   `json:"includeTests,omitempty"`
	IncludeDocs   *bool   `json:"includeDocs,omitempty"`
	SmartFilter   *bool   `json:"smartFilter,omitempty"`
	MaxFileSize   *int64  `json:"maxFileSize,omitempty"`
	OutputFormat  *string `json:"outputFormat,omitempty"`
	RedactSecrets *bool   `json:"redactSecrets,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Resolve fills omitted options from d.
func (o RequestOptions) Resolve(d config.DefaultsConfig) filter.Options {
	return filter.Options{
		IncludeTests:  deref(o.IncludeTests, d.IncludeTests),
		IncludeDocs:   deref(o.IncludeDocs, d.IncludeDocs),
		SmartFilter:   deref(o.SmartFilter, d.SmartFilter),
		MaxFileSize:   deref(o.MaxFileSize, d.MaxFileSize),
		OutputFormat:  deref(o.OutputFormat, d.OutputFormat),
		RedactSecrets: deref(o.RedactSecrets, d.RedactSecrets),
	}
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

// handleDigest runs the pipeline and returns the result document.
func (s *Server) handleDigest(c echo.Context) error {
	ctx := c.Request().Context()

	var req DigestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Debug(ctx, "invalid digest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody)
	}

	res, err := s.processor.Process(ctx, repository.Request{
		URL:        req.URL,
		Options:    req.Options.Resolve(s.defaults),
		Credential: req.Credential,
		Private:    req.Private,
	})
	if err != nil {
		return statusFor(err)
	}

	body, err := res.Encode()
	if err != nil {
		s.logger.Error(ctx, "encoding digest", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, msgProcessing)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// statusFor maps pipeline errors to generic HTTP errors.
func statusFor(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, source.ErrInvalidSource):
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidURL)
	case errors.Is(err, repository.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidOptions)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// A deadline is a processing failure wherever it lands, clone included.
		return echo.NewHTTPError(http.StatusInternalServerError, msgProcessing)
	case errors.Is(err, source.ErrFetch):
		return echo.NewHTTPError(http.StatusInternalServerError, msgFetchFailed)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, msgProcessing)
	}
}

// errorHandler writes every error as {"error": "..."}.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := msgProcessing
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, ErrorResponse{Error: msg})
		}
		if werr != nil {
			logger.Warn(c.Request().Context(), "writing error response", zap.Error(werr))
		}
	}
}
