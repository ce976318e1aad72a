package models

import (
	"fknsrs.biz/p/catalogfill/internal/sqlbuilderutil"
)

var (
	VideoCandidateTable *sqlbuilderutil.Table
)

func init() {
	VideoCandidateTable = sqlbuilderutil.MustMakeTable(VideoCandidate{})
}

// VideoCandidate is the slice of a catalog record the backfill reads.
type VideoCandidate struct {
	ID         int     `sql:",table:videos"`
	ExternalID string  `sql:"tera_id"`
	Title      *string
	PosterURL  *string `sql:"poster"`
}

func (c VideoCandidate) HasExternalID() bool {
	return c.ExternalID != ""
}
