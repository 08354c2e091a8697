package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OracleSettings configures the quiz answer oracle for a user
type OracleSettings struct {
	Provider      OracleProvider `json:"provider" bson:"provider"`
	Enabled       bool           `json:"enabled" bson:"enabled"`
	SubmitEnabled bool           `json:"submit_enabled" bson:"submit_enabled"`
	Endpoint      string         `json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	Token         string         `json:"token,omitempty" bson:"token,omitempty"`
	AnswerPath    string         `json:"answer_path,omitempty" bson:"answer_path,omitempty"` // JSONPath
}

// NotificationSettings configures where terminal job summaries go
type NotificationSettings struct {
	Provider    NotifyProvider    `json:"provider" bson:"provider"`
	URL         string            `json:"url,omitempty" bson:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	RetryConfig RetryConfig       `json:"retry_config,omitempty" bson:"retry_config,omitempty"`
}

// PlatformAccount holds the remote platform login. The password is secretbox ciphertext.
type PlatformAccount struct {
	Username          string `json:"username" bson:"username"`
	EncryptedPassword string `json:"-" bson:"encrypted_password"`
}

// UserSettings are the per-user automation settings
type UserSettings struct {
	NotOpenAction NotOpenAction        `json:"notopen_action" bson:"notopen_action"`
	Speed         float64              `json:"speed" bson:"speed"`
	Oracle        OracleSettings       `json:"oracle" bson:"oracle"`
	Notification  NotificationSettings `json:"notification" bson:"notification"`
}

// SetDefaults fills unset settings
func (s *UserSettings) SetDefaults() {
	if s.NotOpenAction == "" {
		s.NotOpenAction = NotOpenRetry
	}
	if s.Speed == 0 {
		s.Speed = 1.0
	}
	if s.Oracle.Provider == "" {
		s.Oracle.Provider = OracleNone
	}
	if s.Oracle.AnswerPath == "" {
		s.Oracle.AnswerPath = "$.answer"
	}
	if s.Notification.Provider == "" {
		s.Notification.Provider = NotifyNone
	}
	s.Notification.RetryConfig.SetDefaults()
}

// Validate validates settings
func (s *UserSettings) Validate() error {
	s.SetDefaults()

	if err := s.NotOpenAction.UnmarshalText([]byte(s.NotOpenAction)); err != nil {
		return err
	}
	if s.Speed < 1.0 || s.Speed > 2.0 {
		return fmt.Errorf("%w: speed must be between 1.0 and 2.0", ErrValidation)
	}
	if err := s.Oracle.Provider.UnmarshalText([]byte(s.Oracle.Provider)); err != nil {
		return err
	}
	if s.Oracle.Provider == OracleHTTP {
		if err := validateHTTPURL(s.Oracle.Endpoint); err != nil {
			return fmt.Errorf("%w: oracle endpoint: %v", ErrValidation, err)
		}
	}
	if err := s.Notification.Provider.UnmarshalText([]byte(s.Notification.Provider)); err != nil {
		return err
	}
	if s.Notification.Provider == NotifyWebhook {
		if err := validateHTTPURL(s.Notification.URL); err != nil {
			return fmt.Errorf("%w: notification url: %v", ErrValidation, err)
		}
		if err := s.Notification.RetryConfig.Validate(); err != nil {
			return fmt.Errorf("notification retry: %w", err)
		}
	}
	return nil
}

// User is a registered account that owns jobs
type User struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Username  string             `json:"username" bson:"username"`
	Active    bool               `json:"active" bson:"active"`
	Settings  UserSettings       `json:"settings" bson:"settings"`
	Account   PlatformAccount    `json:"account" bson:"account"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}

// Validate validates the user record
func (u *User) Validate() error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	return u.Settings.Validate()
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url must start with http:// or https://")
	}
	return nil
}
