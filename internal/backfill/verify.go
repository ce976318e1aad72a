package backfill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/ptr"
	"fknsrs.biz/p/catalogfill/models"
)

type IssueKind string

const (
	IssueTitleMissing  IssueKind = "title_missing"
	IssueTitleShort    IssueKind = "title_short"
	IssuePosterMissing IssueKind = "poster_missing"
	IssuePosterInvalid IssueKind = "poster_invalid"
)

type Issue struct {
	VideoID    int         `json:"video_id"`
	ExternalID string      `json:"external_id"`
	Title      *string     `json:"title"`
	PosterURL  *string     `json:"poster"`
	Kinds      []IssueKind `json:"issues"`
}

type Report struct {
	Checked int               `json:"checked"`
	Counts  map[IssueKind]int `json:"counts"`
	Issues  []Issue           `json:"records"`
	Repair  *Summary          `json:"-"`
}

func (p *Pipeline) Inspect(c models.VideoCandidate) []IssueKind {
	var kinds []IssueKind

	switch {
	case ptr.Blank(c.Title):
		kinds = append(kinds, IssueTitleMissing)
	case utf8.RuneCountInString(strings.TrimSpace(*c.Title)) < p.opts.MinTitleLength:
		kinds = append(kinds, IssueTitleShort)
	}

	switch {
	case ptr.Blank(c.PosterURL):
		kinds = append(kinds, IssuePosterMissing)
	case !catalog.PosterValid(c.PosterURL, p.opts.PosterHosts):
		kinds = append(kinds, IssuePosterInvalid)
	}

	return kinds
}

// Verify inspects records with an external id and lists the ones with
// missing or suspect metadata. With repair set, each of those is then
// reconciled with fill-missing semantics, where a short title counts as
// missing. Without it nothing is written.
func (p *Pipeline) Verify(ctx context.Context, repair bool) (*Report, error) {
	candidates, err := p.SelectCandidates(ctx, ModeRepair, "")
	if err != nil {
		return nil, err
	}

	r := Report{
		Checked: len(candidates),
		Counts:  make(map[IssueKind]int),
		Issues:  []Issue{},
	}

	var broken []models.VideoCandidate
	for _, c := range candidates {
		kinds := p.Inspect(c)
		if len(kinds) == 0 {
			continue
		}

		for _, k := range kinds {
			r.Counts[k]++
		}

		r.Issues = append(r.Issues, Issue{
			VideoID:    c.ID,
			ExternalID: c.ExternalID,
			Title:      c.Title,
			PosterURL:  c.PosterURL,
			Kinds:      kinds,
		})

		broken = append(broken, c)
	}

	ctxlogger.GetLogger(ctx).WithField("backfill.checked", r.Checked).WithField("backfill.issues", len(r.Issues)).Info("verified records")

	if !repair {
		return &r, nil
	}

	r.Repair = newSummary(ModeRepair, len(broken))

	if err := p.reconcileAll(ctx, ModeRepair, broken, r.Repair); err != nil {
		return &r, fmt.Errorf("backfill.Pipeline.Verify: %w", err)
	}

	return &r, nil
}

func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "checked:    %d\n", r.Checked)
	fmt.Fprintf(&b, "with issue: %d\n", len(r.Issues))

	var kinds []string
	for k := range r.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	for _, k := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", k, r.Counts[IssueKind(k)])
	}

	for _, e := range r.Issues {
		var names []string
		for _, k := range e.Kinds {
			names = append(names, string(k))
		}

		fmt.Fprintf(&b, "record %d (%s): %s\n", e.VideoID, e.ExternalID, strings.Join(names, ", "))
	}

	if r.Repair != nil {
		b.WriteString("\nrepair:\n")
		b.WriteString(r.Repair.String())
	}

	return b.String()
}
