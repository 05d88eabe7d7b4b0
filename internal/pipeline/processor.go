package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/negotiate"
	"github.com/dunamismax/pixelserve/internal/params"
)

type Request struct {
	Key    string
	Accept string
	Query  url.Values
}

type Result struct {
	Output      domain.EncodedOutput
	Format      domain.Format
	Dimensions  domain.Dimensions
	SourceBytes int
}

// Fetcher is the object store contract. Fetch reports storage.ErrNotFound or
// storage.ErrTransient on failure and must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Processor runs one request through negotiate, resolve, fetch and transform.
// The first failing stage ends the request; nothing is retried.
type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	formats     []domain.Format
	resolver    params.Resolver
	tracer      trace.Tracer
}

func NewProcessor(fetcher Fetcher, formats []domain.Format, resolver params.Resolver, opts Options) (*Processor, error) {
	return newProcessor(fetcher, newTransformer(opts.withDefaults()), formats, resolver)
}

func newProcessor(fetcher Fetcher, transformer Transformer, formats []domain.Format, resolver params.Resolver) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if len(formats) == 0 {
		return nil, errors.New("at least one output format is required")
	}
	for _, f := range formats {
		if !transformer.CanEncode(f.Codec) {
			return nil, fmt.Errorf("output format %s is not supported by this build", f.MimeType)
		}
	}

	return &Processor{
		fetcher:     fetcher,
		transformer: transformer,
		formats:     append([]domain.Format(nil), formats...),
		resolver:    resolver,
		tracer:      otel.Tracer("pixelserve/pipeline"),
	}, nil
}

func (p *Processor) Formats() []domain.Format {
	return append([]domain.Format(nil), p.formats...)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	format, err := negotiate.Negotiate(req.Accept, p.formats)
	if err != nil {
		return Result{}, fmt.Errorf("negotiate stage: %w", err)
	}

	dims, err := p.resolver.Resolve(req.Query)
	if err != nil {
		return Result{}, fmt.Errorf("params stage: %w", err)
	}

	source, err := p.fetch(ctx, req.Key)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out, err := p.transform(ctx, source, dims, format)
	if err != nil {
		return Result{}, fmt.Errorf("transform stage format=%s size=%s: %w", format.Codec, dims, err)
	}

	if err := checkOutput(out, format, dims); err != nil {
		return Result{}, err
	}

	return Result{
		Output:      out,
		Format:      format,
		Dimensions:  dims,
		SourceBytes: len(source),
	}, nil
}

func (p *Processor) fetch(ctx context.Context, key string) ([]byte, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	span.SetAttributes(attribute.String("object.key", key))
	defer span.End()

	data, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("object.bytes", len(data)))
	return data, nil
}

func (p *Processor) transform(ctx context.Context, source []byte, dims domain.Dimensions, format domain.Format) (domain.EncodedOutput, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.transform")
	span.SetAttributes(
		attribute.String("image.format", string(format.Codec)),
		attribute.Int("image.width", int(dims.Width)),
		attribute.Int("image.height", int(dims.Height)),
	)
	defer span.End()

	out, err := p.transformer.Transform(ctx, source, dims, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		return domain.EncodedOutput{}, err
	}
	return out, nil
}

func checkOutput(out domain.EncodedOutput, format domain.Format, dims domain.Dimensions) error {
	switch {
	case len(out.Bytes) == 0:
		return fmt.Errorf("%w: empty body", ErrResponseBuild)
	case out.ContentType != format.MimeType:
		return fmt.Errorf("%w: content type %q does not match %q", ErrResponseBuild, out.ContentType, format.MimeType)
	case out.Width != int(dims.Width) || out.Height != int(dims.Height):
		return fmt.Errorf("%w: output is %dx%d, want %s", ErrResponseBuild, out.Width, out.Height, dims)
	default:
		return nil
	}
}
