package models

// Category — закрытый набор категорий меню.
// Старые варианты схемы ("tambahan", "foods") сюда не переносим.
type Category string

const (
	CategoryFood  Category = "food"
	CategoryDrink Category = "drink"
	CategoryAddon Category = "addon"
)

// Valid проверяет, что категория входит в допустимый набор.
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryDrink, CategoryAddon:
		return true
	}
	return false
}

// Product представляет позицию меню.
// Quantity — единственное поле, которое меняет ядро (через StockService),
// инвариант quantity >= 0 проверяется до коммита, без «подрезания» задним числом.
type Product struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       int      `json:"price"` // цена в минимальных единицах валюты
	ImageURL    string   `json:"image_url"`
	Quantity    int      `json:"quantity"`
	Category    Category `json:"category"`
}
