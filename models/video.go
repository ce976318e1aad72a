package models

import (
	"database/sql"
	"time"

	"fknsrs.biz/p/catalogfill/internal/sqlbuilderutil"
	"fknsrs.biz/p/catalogfill/internal/sqltypes"
)

var (
	VideoTable *sqlbuilderutil.Table
)

func init() {
	VideoTable = sqlbuilderutil.MustMakeTable(Video{})
}

type Video struct {
	ID          int `sql:",table:videos"`
	Slug        *string
	Title       *string
	Description *string
	PosterURL   *string `sql:"poster"`
	VideoURL    *string
	ExternalID  string `sql:"tera_id"`
	Category    *string
	Tags        sqltypes.JSONStringSlice
	Duration    *string
	Views       int
	Likes       int
	Dislikes    int
	Comments    int
	Published   bool
	PublishedAt *time.Time
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
}

func (v *Video) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "PublishedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &v.PublishedAt}
		case "CreatedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &v.CreatedAt}
		case "UpdatedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &v.UpdatedAt}
		}
	}

	return nil
}

func (v *Video) Candidate() VideoCandidate {
	return VideoCandidate{
		ID:         v.ID,
		ExternalID: v.ExternalID,
		Title:      v.Title,
		PosterURL:  v.PosterURL,
	}
}
