package backfill

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/catalogfill/internal/catalog"
)

type OutcomeKind string

const (
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

type Reason string

const (
	ReasonNoExternalID    Reason = "no_external_id"
	ReasonAlreadyComplete Reason = "already_complete"
	ReasonUnavailable     Reason = "unavailable"
	ReasonNoMetadata      Reason = "no_metadata"
	ReasonStoreError      Reason = "store_error"
)

type Outcome struct {
	VideoID    int
	ExternalID string
	Kind       OutcomeKind
	Reason     Reason
	Err        error
	// Fields holds what was written, for updated records.
	Fields catalog.Fields
	// Contacted is set when the external source was asked about this record.
	Contacted bool
}

func (o Outcome) skipped(r Reason) Outcome {
	o.Kind = OutcomeSkipped
	o.Reason = r
	return o
}

func (o Outcome) failed(r Reason, err error) Outcome {
	o.Kind = OutcomeFailed
	o.Reason = r
	o.Err = err
	return o
}

func (o Outcome) String() string {
	s := fmt.Sprintf("record %d (%s): %s", o.VideoID, o.ExternalID, o.Kind)
	if o.Reason != "" {
		s += " (" + string(o.Reason) + ")"
	}
	if o.Err != nil {
		s += ": " + o.Err.Error()
	}
	return s
}

type Summary struct {
	Mode        Mode
	Candidates  int
	Updated     int
	Skipped     int
	Failed      int
	Reasons     map[Reason]int
	Outcomes    []Outcome
	Interrupted bool
}

func newSummary(mode Mode, candidates int) *Summary {
	return &Summary{
		Mode:       mode,
		Candidates: candidates,
		Reasons:    make(map[Reason]int),
	}
}

func (s *Summary) add(o Outcome) {
	switch o.Kind {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}

	if o.Reason != "" {
		s.Reasons[o.Reason]++
	}

	s.Outcomes = append(s.Outcomes, o)
}

func (s *Summary) Processed() int { return len(s.Outcomes) }

func (s *Summary) reasonsFor(kind OutcomeKind) string {
	m := make(map[Reason]int)
	for _, o := range s.Outcomes {
		if o.Kind == kind && o.Reason != "" {
			m[o.Reason]++
		}
	}

	if len(m) == 0 {
		return ""
	}

	var parts []string
	for r, n := range m {
		parts = append(parts, fmt.Sprintf("%s: %d", r, n))
	}
	sort.Strings(parts)

	return " (" + strings.Join(parts, ", ") + ")"
}

// String renders the end-of-run report. Failed records are always listed so
// they can be retried by hand; single runs list their one record whatever
// happened to it.
func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "mode:       %s\n", s.Mode)
	fmt.Fprintf(&b, "candidates: %d\n", s.Candidates)
	if s.Interrupted {
		fmt.Fprintf(&b, "processed:  %d (interrupted)\n", s.Processed())
	}
	fmt.Fprintf(&b, "updated:    %d\n", s.Updated)
	fmt.Fprintf(&b, "skipped:    %d%s\n", s.Skipped, s.reasonsFor(OutcomeSkipped))
	fmt.Fprintf(&b, "failed:     %d%s\n", s.Failed, s.reasonsFor(OutcomeFailed))

	for _, o := range s.Outcomes {
		if s.Mode == ModeSingle || o.Kind == OutcomeFailed {
			fmt.Fprintf(&b, "  %s\n", o)
		}
	}

	return b.String()
}

func (s *Summary) Fields() logrus.Fields {
	f := logrus.Fields{
		"backfill.mode":       s.Mode,
		"backfill.candidates": s.Candidates,
		"backfill.processed":  s.Processed(),
		"backfill.updated":    s.Updated,
		"backfill.skipped":    s.Skipped,
		"backfill.failed":     s.Failed,
	}

	for r, n := range s.Reasons {
		f["backfill.reason."+string(r)] = n
	}

	if s.Interrupted {
		f["backfill.interrupted"] = true
	}

	return f
}
