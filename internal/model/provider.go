package model

import (
	"fmt"
	"strings"
)

// NotOpenAction is the policy applied when a chapter is not open yet
type NotOpenAction string

const (
	NotOpenRetry    NotOpenAction = "retry"
	NotOpenAsk      NotOpenAction = "ask"
	NotOpenContinue NotOpenAction = "continue"
)

// UnmarshalText parses and validates a not-open action
func (a *NotOpenAction) UnmarshalText(text []byte) error {
	v := NotOpenAction(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case NotOpenRetry, NotOpenAsk, NotOpenContinue:
		*a = v
		return nil
	case "":
		*a = NotOpenRetry
		return nil
	}
	return fmt.Errorf("%w: invalid notopen_action %q (must be 'retry', 'ask' or 'continue')", ErrValidation, string(text))
}

// OracleProvider selects the answer oracle implementation
type OracleProvider string

const (
	OracleNone OracleProvider = "none"
	OracleHTTP OracleProvider = "http"
)

// UnmarshalText parses and validates an oracle provider name
func (p *OracleProvider) UnmarshalText(text []byte) error {
	v := OracleProvider(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case OracleNone, OracleHTTP:
		*p = v
		return nil
	case "":
		*p = OracleNone
		return nil
	}
	return fmt.Errorf("%w: unknown oracle provider %q", ErrValidation, string(text))
}

// NotifyProvider selects the notification channel
type NotifyProvider string

const (
	NotifyNone    NotifyProvider = "none"
	NotifyWebhook NotifyProvider = "webhook"
)

// UnmarshalText parses and validates a notification provider name
func (p *NotifyProvider) UnmarshalText(text []byte) error {
	v := NotifyProvider(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case NotifyNone, NotifyWebhook:
		*p = v
		return nil
	case "":
		*p = NotifyNone
		return nil
	}
	return fmt.Errorf("%w: unknown notification provider %q", ErrValidation, string(text))
}
