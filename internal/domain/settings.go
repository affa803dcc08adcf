package domain

import "time"

// EmailMode selects how an account's outbound email is addressed and
// authenticated.
type EmailMode string

const (
	// EmailModePlatform sends from the shared platform identity using the
	// platform-wide server token.
	EmailModePlatform EmailMode = "platform"
	// EmailModeCustomDomain sends from the account's own domain using the
	// account's encrypted server token.
	EmailModeCustomDomain EmailMode = "custom_domain"
)

// EmailSettings holds an account's email sending configuration. The server
// token is stored encrypted; only the gateway layer ever decrypts it.
type EmailSettings struct {
	ID               int64     `json:"id" db:"id"`
	UserID           int64     `json:"user_id" db:"user_id"`
	Mode             EmailMode `json:"mode" db:"mode"`
	DefaultFromName  *string   `json:"default_from_name" db:"default_from_name"`
	DefaultFromEmail *string   `json:"default_from_email" db:"default_from_email"`
	ServerTokenEnc   *string   `json:"-" db:"postmark_server_token_enc"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasServerToken reports whether an encrypted provider token is present.
func (s *EmailSettings) HasServerToken() bool {
	return s.ServerTokenEnc != nil && *s.ServerTokenEnc != ""
}

// SMSSettings holds an account's SMS sending configuration. Sends go out
// through a per-account provider subaccount; the stored auth token (when
// present) validates inbound webhook signatures.
type SMSSettings struct {
	ID                  int64   `json:"id" db:"id"`
	UserID              int64   `json:"user_id" db:"user_id"`
	Enabled             bool    `json:"enabled" db:"enabled"`
	ChasingDeliveryMode string  `json:"chasing_delivery_mode" db:"chasing_delivery_mode"`
	TwilioPhoneNumber   *string `json:"twilio_phone_number" db:"twilio_phone_number"`
	TwilioPhoneSID      *string `json:"twilio_phone_sid" db:"twilio_phone_sid"`
	TwilioSubaccountSID *string `json:"twilio_subaccount_sid" db:"twilio_subaccount_sid"`
	AuthTokenEnc        *string `json:"-" db:"twilio_auth_token_enc"`

	ForwardingEnabled bool    `json:"forwarding_enabled" db:"forwarding_enabled"`
	ForwardToPhone    *string `json:"forward_to_phone" db:"forward_to_phone"`

	BundleSize     int `json:"bundle_size" db:"bundle_size"`
	CreditsBalance int `json:"credits_balance" db:"credits_balance"`
	FreeCredits    int `json:"free_credits" db:"free_credits"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Sendable reports whether the account can dispatch SMS at all: enabled
// with both a sender number and a provider subaccount present.
func (s *SMSSettings) Sendable() bool {
	return s.Enabled &&
		s.TwilioPhoneNumber != nil && *s.TwilioPhoneNumber != "" &&
		s.TwilioSubaccountSID != nil && *s.TwilioSubaccountSID != ""
}

// Customer is the message recipient as the pipeline sees it: just enough
// identity to address and personalize a reminder.
type Customer struct {
	ID     int64   `json:"id" db:"id"`
	UserID int64   `json:"user_id" db:"user_id"`
	Name   string  `json:"name" db:"name"`
	Email  *string `json:"email" db:"email"`
	Phone  *string `json:"phone" db:"phone"`
}

// ReminderRule is the schedule definition the enqueue-due pass reads.
// Rule editing lives elsewhere; the pipeline only consumes due rules and
// advances their next-run cursor.
type ReminderRule struct {
	ID           int64      `json:"id" db:"id"`
	UserID       int64      `json:"user_id" db:"user_id"`
	ReminderType string     `json:"reminder_type" db:"reminder_type"`
	Enabled      bool       `json:"reminder_enabled" db:"reminder_enabled"`
	Frequency    string     `json:"reminder_frequency" db:"reminder_frequency"`
	NextRunUTC   *time.Time `json:"reminder_next_run_utc" db:"reminder_next_run_utc"`
	LastRunUTC   *time.Time `json:"reminder_last_run_utc" db:"reminder_last_run_utc"`
}
