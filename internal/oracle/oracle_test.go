package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNone(t *testing.T) {
	registry := NewRegistry(Defaults{})

	o, err := registry.Resolve(model.OracleSettings{Provider: model.OracleNone})
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.False(t, Usable(o))
}

func TestResolveUnknownProvider(t *testing.T) {
	_, err := NewRegistry(Defaults{}).Resolve(model.OracleSettings{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	registry := NewRegistry(Defaults{Provider: model.OracleHTTP, Endpoint: "http://oracle.local/answer"})

	o, err := registry.Resolve(model.OracleSettings{Enabled: true, SubmitEnabled: true})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.True(t, Usable(o))
}

func TestUsableRequiresSubmit(t *testing.T) {
	o, err := NewRegistry(Defaults{}).Resolve(model.OracleSettings{
		Provider: model.OracleHTTP,
		Enabled:  true,
		Endpoint: "http://oracle.local/answer",
	})
	require.NoError(t, err)
	assert.False(t, Usable(o))
}

func TestHTTPOracleAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		if body["question"] == "unknown" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"answer": "B"}})
	}))
	defer server.Close()

	o, err := NewRegistry(Defaults{}).Resolve(model.OracleSettings{
		Provider:   model.OracleHTTP,
		Enabled:    true,
		Endpoint:   server.URL,
		Token:      "secret",
		AnswerPath: "$.data.answer",
	})
	require.NoError(t, err)

	answer, ok, err := o.Answer(context.Background(), model.Question{ID: "q1", Title: "2+2?", Options: []string{"3", "4"}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", answer)

	_, ok, err = o.Answer(context.Background(), model.Question{ID: "q2", Title: "unknown"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPOracleServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	o, err := NewRegistry(Defaults{}).Resolve(model.OracleSettings{Provider: model.OracleHTTP, Endpoint: server.URL})
	require.NoError(t, err)

	_, ok, err := o.Answer(context.Background(), model.Question{ID: "q1"})
	assert.Error(t, err)
	assert.False(t, ok)
}
