package sqlite

import (
	"context"
	"fmt"

	"github.com/rpggio/tally/internal/domain/opinion"
)

// SearchRepository implements repository.SearchRepository for SQLite
type SearchRepository struct {
	db *DB
}

// NewSearchRepository creates a new SearchRepository
func NewSearchRepository(db *DB) *SearchRepository {
	return &SearchRepository{db: db}
}

// Search performs a full-text search over a project's opinion content
func (r *SearchRepository) Search(ctx context.Context, projectID, query string, opts opinion.SearchOptions) ([]opinion.SearchResult, error) {
	baseQuery := `
		SELECT ` + prefixed("o", opinionColumns) + `,
			bm25(opinions_fts) AS rank,
			snippet(opinions_fts, 0, '[', ']', '...', 12) AS snippet
		FROM opinions_fts
		JOIN opinions o ON o.rowid = opinions_fts.rowid
		WHERE o.project_id = ? AND opinions_fts MATCH ?
		ORDER BY rank
	`

	args := []any{projectID, query}

	if opts.Limit > 0 {
		baseQuery += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			baseQuery += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search opinions: %w", err)
	}
	defer rows.Close()

	var results []opinion.SearchResult
	for rows.Next() {
		var result opinion.SearchResult
		op, err := scanOpinionWith(rows, &result.Rank, &result.Snippet)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		result.Opinion = *op
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, nil
}
