package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/classify"
	"github.com/fyrsmithlabs/repodigest/internal/digest"
	"github.com/fyrsmithlabs/repodigest/internal/filter"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/secrets"
	"github.com/fyrsmithlabs/repodigest/internal/source"
	"github.com/fyrsmithlabs/repodigest/internal/walker"
	"github.com/fyrsmithlabs/repodigest/internal/workspace"
)

// ErrInvalidRequest is returned for requests rejected before any I/O.
var ErrInvalidRequest = errors.New("invalid request")

const instrumentationName = "github.com/fyrsmithlabs/repodigest/internal/repository"

// Deps are the collaborators of a Service. Fetcher and Workspaces are
// required; the rest default to no-op or built-in implementations.
type Deps struct {
	Fetcher      source.Fetcher
	Workspaces   *workspace.Manager
	Logger       *logging.Logger
	Tracer       trace.Tracer
	Metrics      *Metrics
	AllowedHosts []string

	// Scrubber redacts file contents when a request asks for it. Nil
	// means the gitleaks default rules.
	Scrubber secrets.Scrubber
}

// Service produces digests. It is safe for concurrent use; each call to
// Process owns its workspace and state.
type Service struct {
	fetcher      source.Fetcher
	workspaces   *workspace.Manager
	logger       *logging.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	scrubber     secrets.Scrubber
	allowedHosts []string
}

// NewService creates a Service from deps.
func NewService(deps Deps) *Service {
	s := &Service{
		fetcher:      deps.Fetcher,
		workspaces:   deps.Workspaces,
		logger:       deps.Logger,
		tracer:       deps.Tracer,
		metrics:      deps.Metrics,
		scrubber:     deps.Scrubber,
		allowedHosts: deps.AllowedHosts,
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	}
	if s.scrubber == nil {
		s.scrubber = secrets.MustNewDetector(nil)
	}
	return s
}

// Process fetches the repository named by req, filters its files, and
// renders the digest. Any fatal error unwinds through the workspace
// manager; no partial result is returned.
func (s *Service) Process(ctx context.Context, req Request) (*digest.Result, error) {
	ctx, span := s.tracer.Start(ctx, "digest.process")
	defer span.End()

	res, outcome, err := s.process(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordRequest(outcome)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("digest.files", res.Stats.TotalFiles),
		attribute.Int64("digest.bytes", res.Stats.TotalSize),
	)
	return res, nil
}

func (s *Service) process(ctx context.Context, req Request) (*digest.Result, string, error) {
	format, ok := filter.NormalizeFormat(req.Options.OutputFormat)
	if !ok {
		return nil, OutcomeInvalid, fmt.Errorf("%w: unknown output format %q", ErrInvalidRequest, req.Options.OutputFormat)
	}
	if req.Options.MaxFileSize < 0 {
		return nil, OutcomeInvalid, fmt.Errorf("%w: maxFileSize must not be negative", ErrInvalidRequest)
	}
	opts := req.Options
	opts.OutputFormat = format

	src, err := source.Parse(req.URL, req.Credential, req.Private, s.allowedHosts)
	if err != nil {
		s.logger.Debug(ctx, "rejected repository locator", zap.Error(err))
		return nil, OutcomeInvalid, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ctx = logging.WithRepository(ctx, src.String())
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("repository.host", src.Host),
		attribute.String("digest.format", format),
	)

	var res *digest.Result
	outcome := OutcomeSuccess
	err = s.workspaces.With(ctx, func(ctx context.Context, ws *workspace.Workspace) error {
		if err := s.fetch(ctx, src, ws.Path()); err != nil {
			outcome = OutcomeFetch
			return err
		}
		records, err := s.collect(ctx, ws.Path(), filter.NewEngine(opts))
		if err != nil {
			outcome = OutcomeError
			return err
		}
		res, err = s.render(ctx, src.String(), records, format)
		if err != nil {
			outcome = OutcomeError
		}
		return err
	})
	if err != nil {
		if outcome == OutcomeSuccess {
			outcome = OutcomeError
		}
		s.logger.Error(ctx, "digest failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, outcome, err
	}

	s.logger.Info(ctx, "digest complete",
		zap.Int("files", res.Stats.TotalFiles),
		zap.Int64("bytes", res.Stats.TotalSize),
		zap.Strings("languages", res.Stats.Languages),
		zap.String("format", format),
	)
	return res, outcome, nil
}

func (s *Service) fetch(ctx context.Context, src *source.Source, dir string) error {
	ctx, span := s.tracer.Start(ctx, "digest.fetch")
	defer span.End()
	defer s.timeStage(StageFetch, time.Now())

	s.logger.Debug(ctx, "cloning repository", zap.Bool("authenticated", src.Credential.IsSet()))
	if err := s.fetcher.Fetch(ctx, src, dir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clone failed")
		return err
	}
	return nil
}

// collect walks dir and returns the surviving files in walk order.
func (s *Service) collect(ctx context.Context, dir string, engine *filter.Engine) ([]digest.FileRecord, error) {
	ctx, span := s.tracer.Start(ctx, "digest.collect")
	defer span.End()
	defer s.timeStage(StageCollect, time.Now())

	redact := engine.Options().RedactSecrets
	var records []digest.FileRecord
	var skipped, redacted int

	for entry, err := range walker.Walk(ctx, dir) {
		if err != nil {
			if walker.IsAccessError(err) {
				skipped++
				s.skip(ctx, err)
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("walking repository: %w", err)
		}

		rec, verdict, err := s.read(entry, engine)
		if err != nil {
			skipped++
			s.skip(ctx, err)
			continue
		}
		s.recordVerdict(verdict)
		if !verdict.Keep {
			s.logger.Trace(ctx, "file filtered",
				zap.String("path", entry.RelPath),
				zap.String("reason", string(verdict.Reason)),
			)
			continue
		}

		if redact {
			if r := s.scrubber.Scrub(rec.Content); r.HasFindings() {
				redacted += len(r.Findings)
				rec.Content = r.Scrubbed
			}
		}
		records = append(records, rec)
	}

	span.SetAttributes(
		attribute.Int("files.kept", len(records)),
		attribute.Int("entries.skipped", skipped),
		attribute.Int("secrets.redacted", redacted),
	)
	if redacted > 0 {
		s.logger.Info(ctx, "redacted secrets from digest", zap.Int("findings", redacted))
	}
	return records, nil
}

// read applies the metadata checks, then reads and decodes the file and
// applies the content checks. A file rejected by metadata is never read.
func (s *Service) read(entry walker.Entry, engine *filter.Engine) (digest.FileRecord, filter.Verdict, error) {
	info, err := os.Stat(entry.AbsPath)
	if err != nil {
		return digest.FileRecord{}, filter.Verdict{}, &walker.AccessError{RelPath: entry.RelPath, Err: err}
	}
	if v := engine.Admit(entry.RelPath, info.Size()); !v.Keep {
		return digest.FileRecord{}, v, nil
	}

	raw, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		return digest.FileRecord{}, filter.Verdict{}, &walker.AccessError{RelPath: entry.RelPath, Err: err}
	}
	content := filter.Decode(raw)
	v := engine.Accept(entry.RelPath, content)
	if !v.Keep {
		return digest.FileRecord{}, v, nil
	}

	c := classify.File(entry.RelPath)
	return digest.FileRecord{
		Path:     entry.RelPath,
		Content:  content,
		Size:     info.Size(),
		Language: c.Language,
		IsTest:   c.Test,
		IsDoc:    c.Doc,
	}, v, nil
}

func (s *Service) render(ctx context.Context, repository string, records []digest.FileRecord, format string) (*digest.Result, error) {
	_, span := s.tracer.Start(ctx, "digest.render", trace.WithAttributes(attribute.String("digest.format", format)))
	defer span.End()
	defer s.timeStage(StageRender, time.Now())

	res, err := digest.Render(repository, records, format)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	body, err := res.Body()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDigestSize(len(body))
	}
	return res, nil
}

func (s *Service) skip(ctx context.Context, err error) {
	s.logger.Debug(ctx, "skipping unreadable entry", zap.Error(err))
	if s.metrics != nil {
		s.metrics.RecordSkipped()
	}
}

func (s *Service) recordVerdict(v filter.Verdict) {
	if s.metrics != nil {
		s.metrics.RecordFile(string(v.Reason))
	}
}

func (s *Service) timeStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStage(stage, time.Since(start).Seconds())
	}
}
