package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/modules/valuation"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	db := testingpkg.NewTestDB(t, database.NameMarket)
	r := chi.NewRouter()
	NewHandler(valuation.NewModelRepository(db.Conn(), zerolog.Nop()), zerolog.Nop()).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestModels_CreateVersionsByName(t *testing.T) {
	h := newRouter(t)

	code, first := do(t, h, http.MethodPost, "/models", `{"name":"camera","kind":"linear","rate":0.1}`)
	require.Equal(t, http.StatusCreated, code)
	code, second := do(t, h, http.MethodPost, "/models", `{"name":"camera","kind":"linear","rate":0.2}`)
	require.Equal(t, http.StatusCreated, code)

	firstID := first["data"].(map[string]interface{})["id"]
	secondID := second["data"].(map[string]interface{})["id"]
	assert.NotEqual(t, firstID, secondID)

	code, list := do(t, h, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, list["data"].(map[string]interface{})["count"], float64(2))
}

func TestModels_CreateRejectsInvalid(t *testing.T) {
	h := newRouter(t)

	code, body := do(t, h, http.MethodPost, "/models", `{"name":"x","kind":"exponential","half_life_years":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "half_life_years")

	code, _ = do(t, h, http.MethodPost, "/models", `{"name":"x","kind":"cubic"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestModels_GetAndCurve(t *testing.T) {
	h := newRouter(t)

	_, created := do(t, h, http.MethodPost, "/models", `{"name":"gpu","kind":"linear","rate":0.25}`)
	id := int64(created["data"].(map[string]interface{})["id"].(float64))
	path := fmt.Sprintf("/models/%d", id)

	code, body := do(t, h, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["data"].(map[string]interface{})["description"])

	code, body = do(t, h, http.MethodGet, path+"/curve?years=4", "")
	require.Equal(t, http.StatusOK, code)
	points := body["data"].(map[string]interface{})["points"].([]interface{})
	require.Len(t, points, 5)
	assert.Equal(t, 1.0, points[0].(map[string]interface{})["factor"])
	assert.Equal(t, 0.0, points[4].(map[string]interface{})["factor"])

	code, _ = do(t, h, http.MethodGet, path+"/curve?years=500", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodGet, "/models/99999", "")
	assert.Equal(t, http.StatusNotFound, code)
}
