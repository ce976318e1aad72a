package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/catalogfill/internal/sqltypes"
	"fknsrs.biz/p/catalogfill/models"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var (
	ErrNotFound = fmt.Errorf("catalog: record not found")
)

// Fields is a partial update. Nil pointers leave the column alone.
type Fields struct {
	Title     *string
	PosterURL *string
	UpdatedAt time.Time
}

func (f Fields) Empty() bool {
	return f.Title == nil && f.PosterURL == nil
}

type Store struct {
	db          *sql.DB
	posterHosts []string
}

func NewStore(db *sql.DB, posterHosts []string) *Store {
	var hosts []string
	for _, h := range posterHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}

	return &Store{db: db, posterHosts: hosts}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) PosterHosts() []string { return s.posterHosts }

func blank(c sb.AsExpr) sb.AsExpr {
	return sb.BinaryOperator("=", sb.Func("coalesce", sb.Func("trim", c), sb.Literal("''")), sb.Literal("''"))
}

func notBlank(c sb.AsExpr) sb.AsExpr {
	return sb.Ne(sb.Func("coalesce", sb.Func("trim", c), sb.Literal("''")), sb.Literal("''"))
}

// posterNotValid is the SQL side of PosterValid. It matches every poster
// PosterValid rejects and some it accepts, such as ones with a port.
func (s *Store) posterNotValid() sb.AsExpr {
	poster := models.VideoCandidateTable.C("PosterURL")

	if len(s.posterHosts) == 0 {
		return sb.BinaryOperator("not like", poster, sb.Literal("'http%'"))
	}

	var matches []sb.AsExpr
	for _, host := range s.posterHosts {
		matches = append(matches,
			sb.BinaryOperator("like", poster, sb.Bind("%://"+host+"/%")),
			sb.BinaryOperator("like", poster, sb.Bind("%."+host+"/%")),
		)
	}

	return sb.BinaryOperator("=", sb.BooleanOperator("or", matches...), sb.Literal("0"))
}

func (s *Store) hasExternalID() sb.AsExpr {
	return notBlank(models.VideoCandidateTable.C("ExternalID"))
}

// SelectMissingMetadata returns records with an external id whose title or
// poster is missing or whose poster doesn't point at an expected host.
//
// The SQL condition can only approximate PosterValid, so rows are read in
// pages ordered by id and rechecked before they count towards limit.
func (s *Store) SelectMissingMetadata(ctx context.Context, limit int) ([]models.VideoCandidate, error) {
	t := models.VideoCandidateTable

	var out []models.VideoCandidate

	lastID := 0
	for len(out) < limit {
		condition := sb.BooleanOperator(
			"and",
			sb.BinaryOperator(">", t.C("ID"), sb.Bind(lastID)),
			s.hasExternalID(),
			sb.BooleanOperator(
				"or",
				blank(t.C("Title")),
				blank(t.C("PosterURL")),
				s.posterNotValid(),
			),
		)

		var page []models.VideoCandidate
		if err := qsorm.FindWhere(
			ctx,
			s.db,
			&page,
			condition,
			[]sb.AsOrderingTerm{sb.OrderAsc(t.C("ID"))},
			sb.OffsetLimit(nil, sb.Literal(strconv.Itoa(limit))),
		); err != nil {
			return nil, fmt.Errorf("catalog.Store.SelectMissingMetadata: %w", err)
		}

		for _, c := range page {
			if len(out) < limit && s.NeedsMetadata(c) {
				out = append(out, c)
			}
		}

		if len(page) < limit {
			break
		}

		lastID = page[len(page)-1].ID
	}

	return out, nil
}

// NeedsMetadata is the Go side of the selection in SelectMissingMetadata.
func (s *Store) NeedsMetadata(c models.VideoCandidate) bool {
	if strings.TrimSpace(c.ExternalID) == "" {
		return false
	}

	blankString := func(v *string) bool { return v == nil || strings.TrimSpace(*v) == "" }

	return blankString(c.Title) || blankString(c.PosterURL) || !PosterValid(c.PosterURL, s.posterHosts)
}

func (s *Store) SelectAll(ctx context.Context, limit int) ([]models.VideoCandidate, error) {
	t := models.VideoCandidateTable

	var out []models.VideoCandidate
	if err := qsorm.FindWhere(
		ctx,
		s.db,
		&out,
		s.hasExternalID(),
		[]sb.AsOrderingTerm{sb.OrderAsc(t.C("ID"))},
		sb.OffsetLimit(nil, sb.Literal(strconv.Itoa(limit))),
	); err != nil {
		return nil, fmt.Errorf("catalog.Store.SelectAll: %w", err)
	}

	return out, nil
}

func (s *Store) SelectByExternalID(ctx context.Context, externalID string) (*models.VideoCandidate, error) {
	var out models.VideoCandidate
	if err := sorm.FindFirstWhere(ctx, s.db, &out, "where tera_id = ?", externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("catalog.Store.SelectByExternalID: %q: %w", externalID, ErrNotFound)
		}

		return nil, fmt.Errorf("catalog.Store.SelectByExternalID: %w", err)
	}

	return &out, nil
}

// FindVideo looks a record up by numeric id or by external id.
func (s *Store) FindVideo(ctx context.Context, idOrExternalID string) (*models.Video, error) {
	var out models.Video

	var err error
	if id, convErr := strconv.Atoi(idOrExternalID); convErr == nil {
		err = sorm.FindFirstWhere(ctx, s.db, &out, "where id = ? or tera_id = ?", id, idOrExternalID)
	} else {
		err = sorm.FindFirstWhere(ctx, s.db, &out, "where tera_id = ?", idOrExternalID)
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("catalog.Store.FindVideo: %q: %w", idOrExternalID, ErrNotFound)
		}

		return nil, fmt.Errorf("catalog.Store.FindVideo: %w", err)
	}

	return &out, nil
}

// Update writes the given fields and updated_at in one statement. Nothing
// else on the record changes.
func (s *Store) Update(ctx context.Context, id int, f Fields) error {
	t := models.VideoTable

	var sets []string
	var args []interface{}

	if f.Title != nil {
		sets = append(sets, t.ColumnName("Title")+" = ?")
		args = append(args, *f.Title)
	}
	if f.PosterURL != nil {
		sets = append(sets, t.ColumnName("PosterURL")+" = ?")
		args = append(args, *f.PosterURL)
	}

	if len(sets) == 0 {
		return fmt.Errorf("catalog.Store.Update: no fields to update for record %d", id)
	}

	updatedAt := f.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	sets = append(sets, t.ColumnName("UpdatedAt")+" = ?")
	args = append(args, sqltypes.FormatTime(updatedAt), id)

	q := "update " + t.Name() + " set " + strings.Join(sets, ", ") + " where " + t.ColumnName("ID") + " = ?"

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("catalog.Store.Update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog.Store.Update: could not get affected row count: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("catalog.Store.Update: record %d: %w", id, ErrNotFound)
	}

	return nil
}

// PosterValid reports whether u is an absolute http(s) URL and, when hosts
// are given, points at one of them or a subdomain of one.
func PosterValid(u *string, hosts []string) bool {
	if u == nil {
		return false
	}

	parsed, err := url.Parse(strings.TrimSpace(*u))
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	if len(hosts) == 0 {
		return true
	}

	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}

		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}

	return false
}
