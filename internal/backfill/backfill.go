package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/catchpanic"
	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/metaextract"
	"fknsrs.biz/p/catalogfill/internal/metasource"
	"fknsrs.biz/p/catalogfill/internal/ptr"
	"fknsrs.biz/p/catalogfill/models"
)

type Mode string

const (
	ModeNeedsUpdate Mode = "needs-update"
	ModeForceAll    Mode = "force-all"
	ModeSingle      Mode = "single"
	ModeRepair      Mode = "repair"
)

const (
	DefaultBatchSize       = 100
	DefaultForceBatchSize  = 200
	DefaultVerifyBatchSize = 1000
	DefaultMinTitleLength  = 3
	DefaultDelay           = time.Second
)

var (
	ErrNotFound = fmt.Errorf("backfill: no record with that external id")
)

// SelectionError means no candidates could be loaded at all. It is the only
// error that ends a run before any record is looked at.
type SelectionError struct {
	Mode Mode
	Err  error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("backfill: could not select candidates for %s run: %s", e.Mode, e.Err.Error())
}

func (e *SelectionError) Unwrap() error { return e.Err }

type Store interface {
	SelectMissingMetadata(ctx context.Context, limit int) ([]models.VideoCandidate, error)
	SelectAll(ctx context.Context, limit int) ([]models.VideoCandidate, error)
	SelectByExternalID(ctx context.Context, externalID string) (*models.VideoCandidate, error)
	Update(ctx context.Context, id int, f catalog.Fields) error
}

type Fetcher interface {
	Lookup(ctx context.Context, externalID string) (*metaextract.Metadata, error)
}

type Options struct {
	BatchSize       int
	ForceBatchSize  int
	VerifyBatchSize int
	MinTitleLength  int
	// Delay is the pause after each record that went to the external
	// source, except the last one in a run. Zero disables it.
	Delay       time.Duration
	PosterHosts []string
	Sleep       func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		BatchSize:       DefaultBatchSize,
		ForceBatchSize:  DefaultForceBatchSize,
		VerifyBatchSize: DefaultVerifyBatchSize,
		MinTitleLength:  DefaultMinTitleLength,
		Delay:           DefaultDelay,
	}
}

type Pipeline struct {
	store   Store
	fetcher Fetcher
	opts    Options
}

func New(store Store, fetcher Fetcher, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ForceBatchSize <= 0 {
		opts.ForceBatchSize = DefaultForceBatchSize
	}
	if opts.VerifyBatchSize <= 0 {
		opts.VerifyBatchSize = DefaultVerifyBatchSize
	}
	if opts.MinTitleLength <= 0 {
		opts.MinTitleLength = DefaultMinTitleLength
	}
	if opts.Sleep == nil {
		opts.Sleep = ctxclock.Sleep
	}

	return &Pipeline{store: store, fetcher: fetcher, opts: opts}
}

func (p *Pipeline) Options() Options { return p.opts }

func (p *Pipeline) SelectCandidates(ctx context.Context, mode Mode, externalID string) ([]models.VideoCandidate, error) {
	switch mode {
	case ModeNeedsUpdate:
		l, err := p.store.SelectMissingMetadata(ctx, p.opts.BatchSize)
		if err != nil {
			return nil, &SelectionError{Mode: mode, Err: err}
		}
		return l, nil
	case ModeForceAll:
		l, err := p.store.SelectAll(ctx, p.opts.ForceBatchSize)
		if err != nil {
			return nil, &SelectionError{Mode: mode, Err: err}
		}
		return l, nil
	case ModeRepair:
		l, err := p.store.SelectAll(ctx, p.opts.VerifyBatchSize)
		if err != nil {
			return nil, &SelectionError{Mode: mode, Err: err}
		}
		return l, nil
	case ModeSingle:
		externalID = strings.TrimSpace(externalID)
		if externalID == "" {
			return nil, &SelectionError{Mode: mode, Err: fmt.Errorf("no external id given")}
		}

		c, err := p.store.SelectByExternalID(ctx, externalID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, fmt.Errorf("backfill.Pipeline.SelectCandidates: %q: %w", externalID, ErrNotFound)
			}
			return nil, &SelectionError{Mode: mode, Err: err}
		}
		return []models.VideoCandidate{*c}, nil
	default:
		return nil, &SelectionError{Mode: mode, Err: fmt.Errorf("unknown mode %q", mode)}
	}
}

func (p *Pipeline) titleMissing(mode Mode, title *string) bool {
	if ptr.Blank(title) {
		return true
	}

	if mode == ModeRepair {
		return utf8.RuneCountInString(strings.TrimSpace(*title)) < p.opts.MinTitleLength
	}

	return false
}

func (p *Pipeline) posterMissing(poster *string) bool {
	return !catalog.PosterValid(poster, p.opts.PosterHosts)
}

// fieldsFor works out what to write for c given freshly fetched metadata.
// Only force runs replace values that are already there. Outside force runs
// a fetched poster is only written if it would itself pass the poster check,
// so a filled record is not selected again on the next run.
func (p *Pipeline) fieldsFor(mode Mode, c models.VideoCandidate, m *metaextract.Metadata) catalog.Fields {
	var f catalog.Fields

	if mode == ModeForceAll {
		f.Title = m.Title
		if catalog.PosterValid(m.PosterURL, nil) {
			f.PosterURL = m.PosterURL
		}
		return f
	}

	if p.titleMissing(mode, c.Title) {
		f.Title = m.Title
	}
	if p.posterMissing(c.PosterURL) && !p.posterMissing(m.PosterURL) {
		f.PosterURL = m.PosterURL
	}

	return f
}

// Reconcile runs fetch, extract and write for one record. Whatever happens
// is reported in the returned Outcome; it never returns an error or panics.
func (p *Pipeline) Reconcile(ctx context.Context, mode Mode, c models.VideoCandidate) Outcome {
	start := ctxclock.NowOrReal(ctx)

	o := p.reconcile(ctx, mode, c)

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"video.id":          c.ID,
		"video.external_id": c.ExternalID,
		"backfill.mode":     mode,
		"backfill.outcome":  o.Kind,
		"backfill.duration": ctxclock.NowOrReal(ctx).Sub(start),
	})
	if o.Reason != "" {
		l = l.WithField("backfill.reason", o.Reason)
	}
	if o.Err != nil {
		l = l.WithError(o.Err)
	}

	switch {
	case o.Kind == OutcomeUpdated:
		l.WithFields(logrus.Fields{
			"backfill.title_written":  o.Fields.Title != nil,
			"backfill.poster_written": o.Fields.PosterURL != nil,
		}).Info("record updated")
	case o.Kind == OutcomeSkipped:
		l.Debug("record skipped")
	case o.Reason == ReasonStoreError:
		l.Error("could not write record")
	default:
		l.Warn("could not reconcile record")
	}

	return o
}

func (p *Pipeline) reconcile(ctx context.Context, mode Mode, c models.VideoCandidate) Outcome {
	o := Outcome{VideoID: c.ID, ExternalID: c.ExternalID}

	if strings.TrimSpace(c.ExternalID) == "" {
		return o.skipped(ReasonNoExternalID)
	}

	if mode != ModeForceAll && !p.titleMissing(mode, c.Title) && !p.posterMissing(c.PosterURL) {
		return o.skipped(ReasonAlreadyComplete)
	}

	lookupCtx := ctx
	if mode == ModeForceAll {
		lookupCtx = metasource.WithRefresh(ctx)
	}

	o.Contacted = true

	m, err := catchpanic.CatchErr1(func() (*metaextract.Metadata, error) {
		return p.fetcher.Lookup(lookupCtx, c.ExternalID)
	})
	if err != nil {
		return o.failed(ReasonUnavailable, err)
	}

	if m == nil || m.Title == nil {
		return o.failed(ReasonNoMetadata, fmt.Errorf("backfill: no title found for %q", c.ExternalID))
	}

	f := p.fieldsFor(mode, c, m)
	if f.Empty() {
		return o.failed(ReasonNoMetadata, fmt.Errorf("backfill: nothing usable to fill in for %q", c.ExternalID))
	}

	f.UpdatedAt = ctxclock.NowOrReal(ctx).UTC()

	if err := catchpanic.CatchErr0(func() error { return p.store.Update(ctx, c.ID, f) }); err != nil {
		return o.failed(ReasonStoreError, err)
	}

	o.Kind = OutcomeUpdated
	o.Fields = f

	return o
}

// Run selects candidates for mode and reconciles them one at a time, in
// selection order. Per-record failures end up in the summary; the returned
// error is only set when selection fails or ctx is cancelled, and in the
// latter case the partial summary is returned too.
func (p *Pipeline) Run(ctx context.Context, mode Mode, externalID string) (*Summary, error) {
	candidates, err := p.SelectCandidates(ctx, mode, externalID)
	if err != nil {
		return nil, err
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"backfill.mode":       mode,
		"backfill.candidates": len(candidates),
	}).Info("starting backfill run")

	s := newSummary(mode, len(candidates))

	if err := p.reconcileAll(ctx, mode, candidates, s); err != nil {
		return s, fmt.Errorf("backfill.Pipeline.Run: %w", err)
	}

	return s, nil
}

// RunSingle reconciles the one record with externalID. With force set the
// record is overwritten the way a force-all run would do it.
func (p *Pipeline) RunSingle(ctx context.Context, externalID string, force bool) (*Summary, error) {
	if !force {
		return p.Run(ctx, ModeSingle, externalID)
	}

	candidates, err := p.SelectCandidates(ctx, ModeSingle, externalID)
	if err != nil {
		return nil, err
	}

	s := newSummary(ModeSingle, len(candidates))

	if err := p.reconcileAll(ctx, ModeForceAll, candidates, s); err != nil {
		return s, fmt.Errorf("backfill.Pipeline.RunSingle: %w", err)
	}

	return s, nil
}

func (p *Pipeline) reconcileAll(ctx context.Context, mode Mode, candidates []models.VideoCandidate, s *Summary) error {
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			s.Interrupted = true
			return fmt.Errorf("interrupted after %d of %d records: %w", i, len(candidates), err)
		}

		o := p.Reconcile(ctx, mode, c)
		s.add(o)

		if o.Contacted && i < len(candidates)-1 {
			if err := p.opts.Sleep(ctx, p.opts.Delay); err != nil {
				s.Interrupted = true
				return fmt.Errorf("interrupted after %d of %d records: %w", i+1, len(candidates), err)
			}
		}
	}

	return nil
}
