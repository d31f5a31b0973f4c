package routestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/intenthub/internal/apperr"
	"github.com/ajitpratap0/intenthub/internal/models"
)

func newTestRoute(name string) models.Route {
	return models.Route{
		Name:           name,
		Utterances:     []string{"book a flight", "reserve a flight"},
		ScoreThreshold: 0.7,
	}
}

func TestRouteStore_CreateAssignsIncreasingIDs(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	r1, err := s.Create(newTestRoute("flights"))
	require.NoError(t, err)
	r2, err := s.Create(newTestRoute("hotels"))
	require.NoError(t, err)

	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Greater(t, r2.ID, r1.ID)
}

func TestRouteStore_CreateRejectsInvalidRoute(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	_, err = s.Create(models.Route{Name: "no utterances"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRouteStore_GetNotFound(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	_, err = s.Get(999)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRouteStore_UpdateKeepsIDAndCreatedAt(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	created, err := s.Create(newTestRoute("flights"))
	require.NoError(t, err)

	updated := newTestRoute("flights-v2")
	got, err := s.Update(created.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.Equal(t, "flights-v2", got.Name)
}

func TestRouteStore_DeleteThenGetNotFound(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	created, err := s.Create(newTestRoute("flights"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(created.ID))
	_, err = s.Get(created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRouteStore_ListReflectsDisjointMutations(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	a, err := s.Create(newTestRoute("a"))
	require.NoError(t, err)
	b, err := s.Create(newTestRoute("b"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(a.ID))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

func TestRouteStore_VersionIncreasesOnMutation(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	v0 := s.Version()
	_, err = s.Create(newTestRoute("flights"))
	require.NoError(t, err)
	assert.Greater(t, s.Version(), v0)
}

func TestRouteStore_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	s1, err := New(path, nil)
	require.NoError(t, err)
	created, err := s1.Create(newTestRoute("flights"))
	require.NoError(t, err)

	s2, err := New(path, nil)
	require.NoError(t, err)
	got, err := s2.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
}

func TestRouteStore_JournalIsABareRouteArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	s, err := New(path, nil)
	require.NoError(t, err)
	_, err = s.Create(newTestRoute("flights"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var routes []models.Route
	require.NoError(t, json.Unmarshal(raw, &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "flights", routes[0].Name)
}

func TestRouteStore_NextIDSurvivesRestartViaMaxLoadedID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	s1, err := New(path, nil)
	require.NoError(t, err)
	first, err := s1.Create(newTestRoute("flights"))
	require.NoError(t, err)

	s2, err := New(path, nil)
	require.NoError(t, err)
	second, err := s2.Create(newTestRoute("hotels"))
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
}

func TestRouteStore_SearchMatchesNameDescriptionAndUtterances(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	_, err = s.Create(models.Route{
		Name:           "flights",
		Description:    "air travel booking",
		Utterances:     []string{"book a flight to paris"},
		ScoreThreshold: 0.5,
	})
	require.NoError(t, err)
	_, err = s.Create(models.Route{
		Name:           "weather",
		Utterances:     []string{"what is the forecast"},
		ScoreThreshold: 0.5,
	})
	require.NoError(t, err)

	assert.Len(t, s.Search("flight"), 1)
	assert.Len(t, s.Search("air travel"), 1)
	assert.Len(t, s.Search("forecast"), 1)
	assert.Empty(t, s.Search("nonexistent"))
	assert.Len(t, s.Search(""), 2)
}

func TestRouteStore_SearchIsCaseSensitive(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)

	_, err = s.Create(newTestRoute("Flights"))
	require.NoError(t, err)

	assert.Empty(t, s.Search("flights"))
	assert.Len(t, s.Search("Flights"), 1)
}

func TestRouteStore_ToleratesMissingJournal(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "does-not-exist.json"), nil)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}
