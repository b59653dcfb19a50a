package menu

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-settle/internal/common"
	"github.com/noah-isme/backend-settle/internal/pricing"
)

// Entry is a menu item rendered for one locale.
type Entry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Price       pricing.Money `json:"price"`
	Category    string        `json:"category"`
}

// Handler serves the catalog to ordering clients.
type Handler struct {
	Catalog *StaticCatalog
}

// List handles GET /menu. Optional query parameters: locale, category.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "MENU_UNAVAILABLE", "menu not configured", nil)
		return
	}
	locale := strings.TrimSpace(r.URL.Query().Get("locale"))
	if locale == "" {
		locale = DefaultLocale
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	entries := make([]Entry, 0, len(h.Catalog.order))
	for _, it := range h.Catalog.Items() {
		if category != "" && !strings.EqualFold(it.Category, category) {
			continue
		}
		desc := it.Description[locale]
		if desc == "" {
			desc = it.Description[DefaultLocale]
		}
		entries = append(entries, Entry{
			ID:          it.ID,
			Name:        it.Title(locale),
			Description: desc,
			Price:       it.Price,
			Category:    it.Category,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"currency": h.Catalog.Currency,
		"locale":   locale,
		"items":    entries,
	}})
}
