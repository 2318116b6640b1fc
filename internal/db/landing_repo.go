package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"plainly/internal/types"
)

// LandingPageRepository provides data access for the landing_pages table,
// including the public published-page lookup and the view/conversion
// counters the hosted pages increment.
type LandingPageRepository struct {
	db DBTX
}

// NewLandingPageRepository creates a new LandingPageRepository backed by the
// given database connection (pool or transaction).
func NewLandingPageRepository(db DBTX) *LandingPageRepository {
	return &LandingPageRepository{db: db}
}

const landingColumns = `id, user_id, name, slug, template, headline,
	subheadline, button_text, image_url, show_first_name, assign_tag,
	assign_sequence_id, success_message, redirect_url, views, conversions,
	status, created_at, updated_at`

// List returns every landing page owned by userID, newest first.
func (r *LandingPageRepository) List(ctx context.Context, userID string) ([]*types.LandingPage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+landingColumns+`
		 FROM landing_pages
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list landing pages", err)
	}
	defer rows.Close()

	var out []*types.LandingPage
	for rows.Next() {
		p, scanErr := scanLandingPage(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan landing page row", scanErr)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating landing page rows", err)
	}
	return out, nil
}

// GetPublishedBySlug returns a published page by its public slug. Draft
// pages are invisible to the public surface.
func (r *LandingPageRepository) GetPublishedBySlug(ctx context.Context, slug string) (*types.LandingPage, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+landingColumns+`
		 FROM landing_pages
		 WHERE slug = $1 AND status = 'published'`,
		slug,
	)
	p, err := scanLandingPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPage, "landing page not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get landing page", err)
	}
	return p, nil
}

// Create inserts a new landing page. A duplicate slug maps to
// ErrCodeConflictSlug.
func (r *LandingPageRepository) Create(ctx context.Context, p *types.LandingPage) error {
	status := p.Status
	if status == "" {
		status = types.PageDraft
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO landing_pages
		 (user_id, name, slug, template, headline, subheadline, button_text,
		  image_url, show_first_name, assign_tag, assign_sequence_id,
		  success_message, redirect_url, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, views, conversions, created_at, updated_at`,
		p.UserID, p.Name, p.Slug, p.Template, p.Headline,
		nilIfEmpty(p.Subheadline), p.ButtonText, nilIfEmpty(p.ImageURL),
		p.ShowFirstName, nilIfEmpty(p.AssignTag), nilIfEmpty(p.AssignSequenceID),
		nilIfEmpty(p.SuccessMessage), nilIfEmpty(p.RedirectURL), string(status),
	)
	if err := row.Scan(&p.ID, &p.Views, &p.Conversions, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictSlug, "landing page slug already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create landing page", err)
	}
	p.Status = status
	return nil
}

// Update applies a partial update to an owned landing page.
func (r *LandingPageRepository) Update(ctx context.Context, p *types.LandingPage) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE landing_pages SET
			name = $3, slug = $4, template = $5, headline = $6,
			subheadline = $7, button_text = $8, image_url = $9,
			show_first_name = $10, assign_tag = $11, assign_sequence_id = $12,
			success_message = $13, redirect_url = $14, status = $15,
			updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		p.ID, p.UserID, p.Name, p.Slug, p.Template, p.Headline,
		nilIfEmpty(p.Subheadline), p.ButtonText, nilIfEmpty(p.ImageURL),
		p.ShowFirstName, nilIfEmpty(p.AssignTag), nilIfEmpty(p.AssignSequenceID),
		nilIfEmpty(p.SuccessMessage), nilIfEmpty(p.RedirectURL), string(p.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictSlug, "landing page slug already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update landing page", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPage, "landing page not found", nil)
	}
	return nil
}

// Delete removes an owned landing page.
func (r *LandingPageRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM landing_pages WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete landing page", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPage, "landing page not found", nil)
	}
	return nil
}

// IncrementViews bumps the view counter for a published page by slug.
func (r *LandingPageRepository) IncrementViews(ctx context.Context, slug string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE landing_pages SET views = views + 1
		 WHERE slug = $1 AND status = 'published'`,
		slug,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment page views", err)
	}
	return nil
}

// IncrementConversions bumps the conversion counter for a page by id.
func (r *LandingPageRepository) IncrementConversions(ctx context.Context, pageID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE landing_pages SET conversions = conversions + 1 WHERE id = $1`,
		pageID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment page conversions", err)
	}
	return nil
}

// scanLandingPage decodes one landing page row.
func scanLandingPage(row pgx.Row) (*types.LandingPage, error) {
	var (
		p                              types.LandingPage
		subheadline, imageURL          *string
		assignTag, assignSeq           *string
		successMessage, redirectURL    *string
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Slug, &p.Template, &p.Headline,
		&subheadline, &p.ButtonText, &imageURL, &p.ShowFirstName, &assignTag,
		&assignSeq, &successMessage, &redirectURL, &p.Views, &p.Conversions,
		&p.Status, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Subheadline = emptyIfNil(subheadline)
	p.ImageURL = emptyIfNil(imageURL)
	p.AssignTag = emptyIfNil(assignTag)
	p.AssignSequenceID = emptyIfNil(assignSeq)
	p.SuccessMessage = emptyIfNil(successMessage)
	p.RedirectURL = emptyIfNil(redirectURL)
	return &p, nil
}
