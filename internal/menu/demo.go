package menu

// Demo returns the built-in menu used when no menu file is configured.
func Demo() *StaticCatalog {
	c, err := NewStaticCatalog("USD", []MenuItem{
		{
			ID:          "rup-drink-1",
			Name:        map[string]string{"en": "Huichol Mezcalito", "es": "Huichol Mezcalito"},
			Description: map[string]string{"en": "Mezcal, citrus, dried chile, light foam.", "es": "Mezcal, cítricos, chile seco y espuma ligera."},
			Price:       22000,
			Category:    "Cocktails",
		},
		{
			ID:          "rup-drink-2",
			Name:        map[string]string{"en": "Rupestre Gin Tonic", "es": "Rupestre Gin Tonic"},
			Description: map[string]string{"en": "Artisanal gin, tonic water, citrus, and botanicals.", "es": "Gin artesanal, agua tónica, cítricos y botanicals."},
			Price:       21000,
			Category:    "Cocktails",
		},
		{
			ID:          "rup-food-1",
			Name:        map[string]string{"en": "Short Rib Tacos", "es": "Tacos de Short Rib"},
			Description: map[string]string{"en": "Braised short rib, corn tortillas, house salsa.", "es": "Short rib braseado, tortillas de maíz y salsa de la casa."},
			Price:       26000,
			Category:    "Tacos",
		},
		{
			ID:          "rup-food-2",
			Name:        map[string]string{"en": "Ribeye Burger", "es": "Hamburguesa de Ribeye"},
			Description: map[string]string{"en": "Ground ribeye, cheese, caramelized onion, fries.", "es": "Carne de ribeye molido, queso, cebolla caramelizada y papas fritas."},
			Price:       28000,
			Category:    "Burger",
		},
		{
			ID:       "maui-drink-4",
			Name:     map[string]string{"en": "Sparkling Water", "es": "Agua Mineral"},
			Price:    2000,
			Category: "Soft Drinks",
		},
		{
			ID:       "maui-food-nachos",
			Name:     map[string]string{"en": "Island Nachos", "es": "Nachos Isleños"},
			Price:    25000,
			Category: "Starters",
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}
