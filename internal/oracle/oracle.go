// Package oracle resolves quiz answers through a configured provider.
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
)

// Oracle proposes answers to quiz questions
type Oracle interface {
	// Answer returns the proposed answer; ok is false when the oracle has none
	Answer(ctx context.Context, q model.Question) (answer string, ok bool, err error)
	Enabled() bool
	SubmitEnabled() bool
}

// Defaults are process-wide provider settings used when a user has none of their own
type Defaults struct {
	Provider model.OracleProvider
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Builder constructs an oracle for a provider
type Builder func(settings model.OracleSettings, client *http.Client) (Oracle, error)

// Registry maps provider enums to builders. It is filled once at startup.
type Registry struct {
	builders map[model.OracleProvider]Builder
	defaults Defaults
	client   *http.Client
}

// NewRegistry creates the registry with the built-in providers
func NewRegistry(defaults Defaults) *Registry {
	if defaults.Timeout == 0 {
		defaults.Timeout = 15 * time.Second
	}
	if defaults.Provider == "" {
		defaults.Provider = model.OracleNone
	}

	return &Registry{
		builders: map[model.OracleProvider]Builder{
			model.OracleNone: func(model.OracleSettings, *http.Client) (Oracle, error) { return nil, nil },
			model.OracleHTTP: newHTTPOracle,
		},
		defaults: defaults,
		client:   &http.Client{Timeout: defaults.Timeout},
	}
}

// Resolve builds the oracle for a user's settings. A nil Oracle means none is configured.
func (r *Registry) Resolve(settings model.OracleSettings) (Oracle, error) {
	if (settings.Provider == "" || settings.Provider == model.OracleNone) && settings.Enabled {
		settings.Provider = r.defaults.Provider
		if settings.Endpoint == "" {
			settings.Endpoint = r.defaults.Endpoint
		}
		if settings.Token == "" {
			settings.Token = r.defaults.Token
		}
	}
	if settings.Provider == "" {
		settings.Provider = model.OracleNone
	}

	build, ok := r.builders[settings.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown oracle provider %q", model.ErrValidation, settings.Provider)
	}
	return build(settings, r.client)
}

// Usable reports whether o can back the not-open retry policy
func Usable(o Oracle) bool {
	return o != nil && o.Enabled() && o.SubmitEnabled()
}
