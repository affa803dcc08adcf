package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

// SettingsRepo reads account sending configuration. The pipeline never
// writes these rows; settings CRUD belongs to the account subsystem.
type SettingsRepo struct{ db *sql.DB }

// NewSettingsRepo creates a Postgres-backed settings repository.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

const emailSettingsColumns = `id, user_id, mode, default_from_name, default_from_email,
	postmark_server_token_enc, created_at, updated_at`

// EmailSettings returns the account's email configuration, or (nil, nil)
// when the account has none — preflight turns that into a permanent job
// failure with a precise message.
func (r *SettingsRepo) EmailSettings(ctx context.Context, userID int64) (*domain.EmailSettings, error) {
	s := &domain.EmailSettings{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+emailSettingsColumns+` FROM account_email_settings WHERE user_id = $1
	`, userID).Scan(&s.ID, &s.UserID, &s.Mode, &s.DefaultFromName, &s.DefaultFromEmail,
		&s.ServerTokenEnc, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load email settings: %w", err)
	}
	return s, nil
}

const smsSettingsColumns = `id, user_id, enabled, chasing_delivery_mode,
	twilio_phone_number, twilio_phone_sid, twilio_subaccount_sid, twilio_auth_token_enc,
	forwarding_enabled, forward_to_phone, bundle_size, credits_balance, free_credits,
	created_at, updated_at`

func (r *SettingsRepo) scanSMS(row *sql.Row) (*domain.SMSSettings, error) {
	s := &domain.SMSSettings{}
	err := row.Scan(&s.ID, &s.UserID, &s.Enabled, &s.ChasingDeliveryMode,
		&s.TwilioPhoneNumber, &s.TwilioPhoneSID, &s.TwilioSubaccountSID, &s.AuthTokenEnc,
		&s.ForwardingEnabled, &s.ForwardToPhone, &s.BundleSize, &s.CreditsBalance, &s.FreeCredits,
		&s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sms settings: %w", err)
	}
	return s, nil
}

// SMSSettings returns the account's SMS configuration, or (nil, nil).
func (r *SettingsRepo) SMSSettings(ctx context.Context, userID int64) (*domain.SMSSettings, error) {
	return r.scanSMS(r.db.QueryRowContext(ctx,
		`SELECT `+smsSettingsColumns+` FROM account_sms_settings WHERE user_id = $1`, userID))
}

// SMSSettingsBySubaccount resolves an account from a provider subaccount
// SID, the primary correlation key on inbound SMS webhooks.
func (r *SettingsRepo) SMSSettingsBySubaccount(ctx context.Context, subaccountSID string) (*domain.SMSSettings, error) {
	return r.scanSMS(r.db.QueryRowContext(ctx,
		`SELECT `+smsSettingsColumns+` FROM account_sms_settings WHERE twilio_subaccount_sid = $1`, subaccountSID))
}

// SMSSettingsByPhoneNumber resolves an account from its sending number, the
// webhook fallback when the subaccount SID is unknown.
func (r *SettingsRepo) SMSSettingsByPhoneNumber(ctx context.Context, number string) (*domain.SMSSettings, error) {
	return r.scanSMS(r.db.QueryRowContext(ctx,
		`SELECT `+smsSettingsColumns+` FROM account_sms_settings WHERE twilio_phone_number = $1`, number))
}

// CustomerRepo resolves message recipients.
type CustomerRepo struct{ db *sql.DB }

// NewCustomerRepo creates a Postgres-backed customer repository.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

// Get returns one customer scoped to the owning account.
func (r *CustomerRepo) Get(ctx context.Context, userID, id int64) (*domain.Customer, error) {
	c := &domain.Customer{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, phone FROM customers
		 WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, outbox.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

// WithEmail returns the account's customers that can receive email, ordered
// by id for deterministic enqueue order.
func (r *CustomerRepo) WithEmail(ctx context.Context, userID int64) ([]domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, phone FROM customers
		 WHERE user_id = $1 AND email IS NOT NULL AND email <> ''
		 ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RuleRepo gives the scheduler its view of reminder rules.
type RuleRepo struct{ db *sql.DB }

// NewRuleRepo creates a Postgres-backed rule repository.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// DueStatementRules returns enabled statement rules whose next-run cursor
// has passed, oldest cursor first.
func (r *RuleRepo) DueStatementRules(ctx context.Context, now time.Time) ([]domain.ReminderRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, reminder_type, reminder_enabled, reminder_frequency,
		       reminder_next_run_utc, reminder_last_run_utc
		  FROM reminder_rules
		 WHERE reminder_type = 'statements'
		   AND reminder_enabled = TRUE
		   AND reminder_next_run_utc IS NOT NULL
		   AND reminder_next_run_utc <= $1
		 ORDER BY reminder_next_run_utc ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("load due rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ReminderRule
	for rows.Next() {
		var rule domain.ReminderRule
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.ReminderType, &rule.Enabled,
			&rule.Frequency, &rule.NextRunUTC, &rule.LastRunUTC); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Advance stamps the rule's last run and moves its next-run cursor.
func (r *RuleRepo) Advance(ctx context.Context, ruleID int64, lastRun, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminder_rules
		   SET reminder_last_run_utc = $2, reminder_next_run_utc = $3
		 WHERE id = $1
	`, ruleID, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("advance rule: %w", err)
	}
	return nil
}
