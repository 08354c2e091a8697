package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/oliveagle/jsonpath"
)

// httpOracle asks a JSON endpoint for answers
type httpOracle struct {
	settings model.OracleSettings
	client   *http.Client
	pattern  *jsonpath.Compiled
}

func newHTTPOracle(settings model.OracleSettings, client *http.Client) (Oracle, error) {
	if settings.Endpoint == "" {
		return nil, fmt.Errorf("%w: oracle endpoint is required", model.ErrValidation)
	}
	if settings.AnswerPath == "" {
		settings.AnswerPath = "$.answer"
	}

	pattern, err := jsonpath.Compile(settings.AnswerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONPath expression '%s': %v", model.ErrValidation, settings.AnswerPath, err)
	}

	return &httpOracle{settings: settings, client: client, pattern: pattern}, nil
}

func (o *httpOracle) Enabled() bool       { return o.settings.Enabled }
func (o *httpOracle) SubmitEnabled() bool { return o.settings.SubmitEnabled }

// Answer posts the question and extracts the answer at the configured path
func (o *httpOracle) Answer(ctx context.Context, q model.Question) (string, bool, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"question": q.Title,
		"type":     q.Type,
		"options":  q.Options,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal question: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.settings.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.settings.Token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", false, fmt.Errorf("failed to read oracle response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", false, fmt.Errorf("invalid oracle response: %w", err)
	}

	value, err := o.pattern.Lookup(data)
	if err != nil || value == nil {
		return "", false, nil
	}

	answer := strings.TrimSpace(fmt.Sprint(value))
	if answer == "" {
		return "", false, nil
	}
	return answer, true, nil
}
