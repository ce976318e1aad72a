package catalog

import (
	"context"
	"fmt"
)

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type Stats struct {
	Total         int             `json:"total"`
	Published     int             `json:"published"`
	Views         int64           `json:"views"`
	Likes         int64           `json:"likes"`
	Incomplete    int             `json:"incomplete"`
	TopCategories []CategoryCount `json:"top_categories"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var out Stats

	if err := s.db.QueryRowContext(
		ctx,
		`select
		  count(*),
		  coalesce(sum(case when published then 1 else 0 end), 0),
		  coalesce(sum(views), 0),
		  coalesce(sum(likes), 0),
		  coalesce(sum(case when coalesce(trim(title), '') = '' or coalesce(trim(poster), '') = '' then 1 else 0 end), 0)
		from videos`,
	).Scan(&out.Total, &out.Published, &out.Views, &out.Likes, &out.Incomplete); err != nil {
		return nil, fmt.Errorf("catalog.Store.Stats: could not count records: %w", err)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`select category, count(*) as n
		from videos
		where coalesce(trim(category), '') != ''
		group by category
		order by n desc, category asc
		limit 5`,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog.Store.Stats: could not count categories: %w", err)
	}
	defer rows.Close()

	out.TopCategories = []CategoryCount{}
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("catalog.Store.Stats: %w", err)
		}
		out.TopCategories = append(out.TopCategories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog.Store.Stats: %w", err)
	}

	return &out, nil
}
