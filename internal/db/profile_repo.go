package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"plainly/internal/types"
)

// ProfileRepository provides data access for the profiles table: the sender
// identity used on outbound email and the local mirror of Stripe billing
// state maintained by the webhook handler.
type ProfileRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewProfileRepository creates a new ProfileRepository backed by the given
// database connection (pool or transaction).
func NewProfileRepository(db DBTX, logger *slog.Logger) *ProfileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileRepository{db: db, logger: logger}
}

// Get returns one profile by id.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*types.Profile, error) {
	var (
		p         types.Profile
		name      *string
		subStatus *string
		custID    *string
		subID     *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, email, name, plan, subscription_status,
		        stripe_customer_id, stripe_subscription_id,
		        subscription_current_period_end, created_at, updated_at
		 FROM profiles WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.Email, &name, &p.Plan, &subStatus,
		&custID, &subID, &p.SubscriptionPeriodEndsAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get profile", err)
	}
	p.Name = emptyIfNil(name)
	p.SubscriptionStatus = types.SubscriptionStatus(emptyIfNil(subStatus))
	p.StripeCustomerID = emptyIfNil(custID)
	p.StripeSubscriptionID = emptyIfNil(subID)
	return &p, nil
}

// ActivateSubscription records a completed checkout: customer and
// subscription ids plus the purchased plan, status active.
func (r *ProfileRepository) ActivateSubscription(ctx context.Context, userID string, customerID, subscriptionID string, plan types.PlanTier) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			stripe_customer_id = $2,
			stripe_subscription_id = $3,
			plan = $4,
			subscription_status = 'active',
			updated_at = NOW()
		 WHERE id = $1`,
		userID, customerID, subscriptionID, string(plan),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}

// UpdateSubscriptionBySubID applies a subscription status change keyed on
// the Stripe subscription id. A zero periodEnd leaves the stored period end
// untouched (invoice events carry no period). Unknown ids are logged and
// ignored: Stripe retries webhooks, and an account deleted locally should
// not keep failing the endpoint.
func (r *ProfileRepository) UpdateSubscriptionBySubID(ctx context.Context, subscriptionID string, status types.SubscriptionStatus, periodEnd time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			subscription_status = $2,
			subscription_current_period_end = COALESCE($3, subscription_current_period_end),
			updated_at = NOW()
		 WHERE stripe_subscription_id = $1`,
		subscriptionID, string(status), nilIfZeroTime(periodEnd),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "subscription webhook for unknown subscription id",
			"stripe_subscription_id", subscriptionID,
		)
	}
	return nil
}

// DowngradeBySubID cancels a subscription locally and returns the account to
// the free tier.
func (r *ProfileRepository) DowngradeBySubID(ctx context.Context, subscriptionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET
			subscription_status = 'canceled',
			plan = 'free',
			updated_at = NOW()
		 WHERE stripe_subscription_id = $1`,
		subscriptionID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to downgrade profile", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "cancellation webhook for unknown subscription id",
			"stripe_subscription_id", subscriptionID,
		)
	}
	return nil
}
