package ctxbackfill

import (
	"context"
	"fmt"
	"net/http"

	"fknsrs.biz/p/catalogfill/internal/backfill"
)

// context registration

var pipelineKey int

func WithPipeline(ctx context.Context, p *backfill.Pipeline) context.Context {
	return context.WithValue(ctx, &pipelineKey, p)
}

func GetPipeline(ctx context.Context) *backfill.Pipeline {
	if v := ctx.Value(&pipelineKey); v != nil {
		return v.(*backfill.Pipeline)
	}

	return nil
}

// middleware

func Register(p *backfill.Pipeline) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithPipeline(r.Context(), p)))
	}
}

// main interface

var (
	ErrNoPipeline = fmt.Errorf("ctxbackfill: no pipeline found in context")
)

func Run(ctx context.Context, mode backfill.Mode, externalID string) (*backfill.Summary, error) {
	p := GetPipeline(ctx)
	if p == nil {
		return nil, ErrNoPipeline
	}

	s, err := p.Run(ctx, mode, externalID)
	if err != nil {
		return s, fmt.Errorf("ctxbackfill.Run: %w", err)
	}

	return s, nil
}

func Verify(ctx context.Context, repair bool) (*backfill.Report, error) {
	p := GetPipeline(ctx)
	if p == nil {
		return nil, ErrNoPipeline
	}

	r, err := p.Verify(ctx, repair)
	if err != nil {
		return r, fmt.Errorf("ctxbackfill.Verify: %w", err)
	}

	return r, nil
}
