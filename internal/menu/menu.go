package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-settle/internal/pricing"
)

// ErrUnknownItem is returned when a menu item id is not in the catalog.
var ErrUnknownItem = errors.New("menu: unknown item")

// DefaultLocale is used when an item has no text for the requested locale.
const DefaultLocale = "en"

// MenuItem is immutable reference data owned by the restaurant.
type MenuItem struct {
	ID          string            `json:"id" koanf:"id"`
	Name        map[string]string `json:"name" koanf:"name"`
	Description map[string]string `json:"description,omitempty" koanf:"description"`
	Price       pricing.Money     `json:"price" koanf:"price"`
	Category    string            `json:"category" koanf:"category"`
}

// Title returns the item name in locale, falling back to DefaultLocale and
// then to the id.
func (m MenuItem) Title(locale string) string {
	if v := m.Name[locale]; v != "" {
		return v
	}
	if v := m.Name[DefaultLocale]; v != "" {
		return v
	}
	return m.ID
}

// Catalog resolves menu items by id.
type Catalog interface {
	Lookup(ctx context.Context, id string) (MenuItem, error)
}

// StaticCatalog is an in-memory catalog.
type StaticCatalog struct {
	Currency string
	items    map[string]MenuItem
	order    []string
}

// NewStaticCatalog validates items and indexes them by id.
func NewStaticCatalog(currency string, items []MenuItem) (*StaticCatalog, error) {
	c := &StaticCatalog{Currency: strings.ToUpper(currency), items: make(map[string]MenuItem, len(items))}
	for _, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" {
			return nil, errors.New("menu: item id is required")
		}
		if it.Price < 0 {
			return nil, fmt.Errorf("menu: item %s has negative price", it.ID)
		}
		if _, dup := c.items[it.ID]; dup {
			return nil, fmt.Errorf("menu: duplicate item %s", it.ID)
		}
		c.items[it.ID] = it
		c.order = append(c.order, it.ID)
	}
	return c, nil
}

// Lookup implements Catalog.
func (c *StaticCatalog) Lookup(_ context.Context, id string) (MenuItem, error) {
	it, ok := c.items[id]
	if !ok {
		return MenuItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return it, nil
}

// Items returns the catalog in file order.
func (c *StaticCatalog) Items() []MenuItem {
	out := make([]MenuItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// LoadFile reads a JSON menu of the form
// {"currency":"USD","items":[{"id":..,"name":{"en":..},"price":1250,"category":..}]}.
func LoadFile(path string) (*StaticCatalog, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load menu %s: %w", path, err)
	}
	var items []MenuItem
	if err := k.Unmarshal("items", &items); err != nil {
		return nil, fmt.Errorf("decode menu %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("menu %s has no items", path)
	}
	currency := k.String("currency")
	if currency == "" {
		currency = "USD"
	}
	return NewStaticCatalog(currency, items)
}
