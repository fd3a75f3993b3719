// Package repository reads and writes the marketplace data the feed
// workers rank over: listings and feedback in Postgres, seen sets and
// profile copies in Redis, price aggregations in Elasticsearch.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"feed-workers/internal/models"

	"github.com/lib/pq"
)

type ListingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// CandidateQuery selects active listings for one feed page.
type CandidateQuery struct {
	Exclude []string
	// Cursor is the lowest listing id of the previous page.
	Cursor string
	Limit  int
}

const listingColumns = `id::text, title, description, category, tags, budget_min, budget_max,
	created_at, deadline, client_type, is_sponsored`

// FetchCandidates returns active listings not in q.Exclude, highest id
// first, with ids below q.Cursor when one is set. Ids are serial, so this is
// also newest first, and the order matches the cursor predicate.
func (r *ListingRepository) FetchCandidates(ctx context.Context, q CandidateQuery) ([]models.Listing, error) {
	var (
		where = []string{"status = 'active'"}
		args  []interface{}
	)

	if len(q.Exclude) > 0 {
		args = append(args, pq.Array(q.Exclude))
		where = append(where, fmt.Sprintf("NOT (id::text = ANY($%d))", len(args)))
	}
	if q.Cursor != "" {
		cursor, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", q.Cursor, err)
		}
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("id < $%d", len(args)))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE %s ORDER BY id DESC LIMIT $%d`,
		listingColumns, strings.Join(where, " AND "), len(args))

	return r.queryListings(ctx, query, args...)
}

// FetchSponsored returns up to limit active sponsored listings.
func (r *ListingRepository) FetchSponsored(ctx context.Context, limit int) ([]models.Listing, error) {
	query := fmt.Sprintf(`SELECT %s FROM announcements
		WHERE status = 'active' AND is_sponsored = true
		ORDER BY created_at DESC LIMIT $1`, listingColumns)
	return r.queryListings(ctx, query, limit)
}

func (r *ListingRepository) queryListings(ctx context.Context, query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var (
			l           models.Listing
			description sql.NullString
			clientType  sql.NullString
			budgetMin   sql.NullFloat64
			budgetMax   sql.NullFloat64
			deadline    sql.NullTime
			tags        []string
		)
		if err := rows.Scan(&l.ID, &l.Title, &description, &l.Category, pq.Array(&tags),
			&budgetMin, &budgetMax, &l.CreatedAt, &deadline, &clientType, &l.Sponsored); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}

		l.Description = description.String
		l.ClientType = clientType.String
		l.Tags = tags
		if budgetMin.Valid {
			v := budgetMin.Float64
			l.BudgetMin = &v
		}
		if budgetMax.Valid {
			v := budgetMax.Float64
			l.BudgetMax = &v
		}
		if deadline.Valid {
			d := deadline.Time
			l.Deadline = &d
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

// PriceSamples returns the positive budget_max values of active listings in
// a category.
func (r *ListingRepository) PriceSamples(ctx context.Context, category string) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT budget_max FROM announcements
		WHERE status = 'active' AND category = $1 AND budget_max > 0`, category)
	if err != nil {
		return nil, fmt.Errorf("query price samples: %w", err)
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// Categories lists the categories that have at least one active listing.
func (r *ListingRepository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT category FROM announcements
		WHERE status = 'active' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
