package llmadvisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/intenthub/internal/models"
)

func newFakeChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdvisor_SuggestRepair_HappyPath(t *testing.T) {
	content := `{"rationalization":"split by intent","new_utterances":["cancel my trip"],"conflicting_utterances":["book a flight"]}`
	srv := newFakeChatServer(t, content)
	a := New(Config{Provider: ProviderDeepSeek, BaseURL: srv.URL, Model: "deepseek-chat", APIKey: "key"}, nil)

	routeA := models.Route{Name: "flights", Utterances: []string{"book a flight"}}
	routeB := models.Route{Name: "cancellations", Utterances: []string{"cancel my trip"}}
	conflicts := []models.InstanceConflict{{Source: "book a flight", Target: "cancel my trip", Similarity: 0.9}}

	suggestion, err := a.SuggestRepair(context.Background(), routeA, routeB, conflicts)
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	assert.Equal(t, "split by intent", suggestion.Rationalization)
	assert.Contains(t, suggestion.NewUtterances, "cancel my trip")
}

func TestAdvisor_SuggestRepair_NoConflictsReturnsNilWithoutCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	a := New(Config{Provider: ProviderDeepSeek, BaseURL: srv.URL}, nil)
	suggestion, err := a.SuggestRepair(context.Background(), models.Route{}, models.Route{}, nil)
	require.NoError(t, err)
	assert.Nil(t, suggestion)
	assert.False(t, called)
}

func TestAdvisor_SuggestRepair_DegradesGracefullyOnAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	a := New(Config{Provider: ProviderQwen, BaseURL: srv.URL}, nil)
	conflicts := []models.InstanceConflict{{Source: "a", Target: "b", Similarity: 0.9}}
	suggestion, err := a.SuggestRepair(context.Background(), models.Route{Name: "a"}, models.Route{Name: "b"}, conflicts)
	require.NoError(t, err)
	assert.Nil(t, suggestion)
}

func TestAdvisor_SuggestRepair_DegradesGracefullyOnMalformedJSON(t *testing.T) {
	srv := newFakeChatServer(t, "not valid json")
	a := New(Config{Provider: ProviderOpenRouter, BaseURL: srv.URL}, nil)
	conflicts := []models.InstanceConflict{{Source: "a", Target: "b", Similarity: 0.9}}
	suggestion, err := a.SuggestRepair(context.Background(), models.Route{Name: "a"}, models.Route{Name: "b"}, conflicts)
	require.NoError(t, err)
	assert.Nil(t, suggestion)
}

func TestAdvisor_GenerateUtterances_HappyPath(t *testing.T) {
	content := `{"utterances":["book me a flight","I need a flight booked"]}`
	srv := newFakeChatServer(t, content)
	a := New(Config{Provider: ProviderDoubao, BaseURL: srv.URL}, nil)

	route := models.Route{Name: "flights", Utterances: []string{"book a flight"}}
	utterances, err := a.GenerateUtterances(context.Background(), route, 2)
	require.NoError(t, err)
	assert.Len(t, utterances, 2)
}

func TestAdvisor_GenerateUtterances_ZeroCountReturnsNilWithoutCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	a := New(Config{Provider: ProviderDeepSeek, BaseURL: srv.URL}, nil)
	utterances, err := a.GenerateUtterances(context.Background(), models.Route{}, 0)
	require.NoError(t, err)
	assert.Nil(t, utterances)
	assert.False(t, called)
}

func TestAdvisor_GenerateUtterances_DedupsAgainstExistingUtterances(t *testing.T) {
	content := `{"utterances":["book a flight","book me a flight","book me a flight"]}`
	srv := newFakeChatServer(t, content)
	a := New(Config{Provider: ProviderDoubao, BaseURL: srv.URL}, nil)

	route := models.Route{Name: "flights", Utterances: []string{"book a flight"}}
	utterances, err := a.GenerateUtterances(context.Background(), route, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"book me a flight"}, utterances)
}

func TestAdvisor_GenerateUtterances_CapsAtCount(t *testing.T) {
	content := `{"utterances":["a new flight","another flight idea","yet another flight"]}`
	srv := newFakeChatServer(t, content)
	a := New(Config{Provider: ProviderDoubao, BaseURL: srv.URL}, nil)

	route := models.Route{Name: "flights", Utterances: []string{"book a flight"}}
	utterances, err := a.GenerateUtterances(context.Background(), route, 2)
	require.NoError(t, err)
	assert.Len(t, utterances, 2)
}

func TestAdvisor_Gemini_HappyPath(t *testing.T) {
	content := `{"utterances":["book me a flight"]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": content}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	a := New(Config{Provider: ProviderGemini, BaseURL: srv.URL, Model: "gemini-2.0-flash", APIKey: "key"}, nil)
	route := models.Route{Name: "flights", Utterances: []string{"book a flight"}}
	utterances, err := a.GenerateUtterances(context.Background(), route, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"book me a flight"}, utterances)
}
