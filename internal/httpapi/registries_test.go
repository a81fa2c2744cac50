package httpapi

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistriesAreAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	seller := login(t, handler, "seller", "seller123")

	for _, path := range []string{"/api/v1/categories", "/api/v1/brands", "/api/v1/suppliers"} {
		rec := do(t, handler, http.MethodGet, path, seller, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	rec := do(t, handler, http.MethodPost, "/api/v1/categories", seller, map[string]any{"name": "Bags"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCategoryAndBrandRegistry(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := do(t, handler, http.MethodGet, "/api/v1/categories", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody(t, rec)["categories"], 3)

	rec = do(t, handler, http.MethodPost, "/api/v1/categories", admin, map[string]any{"name": "Bags"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	category := decodeBody(t, rec)["category"].(map[string]any)
	assert.Equal(t, "Bags", category["name"])

	rec = do(t, handler, http.MethodPost, "/api/v1/categories", admin, map[string]any{"name": "bags"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "names are unique ignoring case")

	rec = do(t, handler, http.MethodPost, "/api/v1/brands", admin, map[string]any{"name": "Sora", "category": "Luggage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "brand category must be registered")

	rec = do(t, handler, http.MethodPost, "/api/v1/brands", admin, map[string]any{"name": "Sora", "category": "bags"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	brand := decodeBody(t, rec)["brand"].(map[string]any)
	assert.Equal(t, "Bags", brand["category"])

	// Footwear is referenced by seeded items and brands; deletion still succeeds.
	rec = do(t, handler, http.MethodGet, "/api/v1/categories", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var footwearID float64
	for _, raw := range decodeBody(t, rec)["categories"].([]any) {
		entry := raw.(map[string]any)
		if entry["name"] == "Footwear" {
			footwearID = entry["id"].(float64)
		}
	}
	require.NotZero(t, footwearID)

	path := fmt.Sprintf("/api/v1/categories/%d", int64(footwearID))
	rec = do(t, handler, http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, handler, http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/items/"+nimbus42, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Footwear", decodeBody(t, rec)["item"].(map[string]any)["category"])

	rec = do(t, handler, http.MethodDelete, "/api/v1/brands/not-a-number", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupplierRegistry(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin", "admin123")

	rec := do(t, handler, http.MethodPost, "/api/v1/suppliers", admin, map[string]any{"name": "PT Tas Nusantara"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "contact is required")

	rec = do(t, handler, http.MethodPost, "/api/v1/suppliers", admin, map[string]any{"name": "PT Tas Nusantara", "contact": "031-555-0199"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decodeBody(t, rec)["supplier"].(map[string]any)["id"].(float64))

	rec = do(t, handler, http.MethodGet, "/api/v1/suppliers", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["suppliers"], 4)

	rec = do(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/suppliers/%d", id), admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/suppliers", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["suppliers"], 3)
}
