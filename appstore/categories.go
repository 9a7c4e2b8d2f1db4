package appstore

import "sort"

// Category pairs a store category name with its numeric genre ID.
type Category struct {
	Name    string
	GenreID int
}

// categories maps category names to store genre IDs. These IDs are
// stable identifiers assigned by the store and shared between the
// search API and the RSS chart feeds.
var categories = map[string]int{
	"games":                6014,
	"business":             6000,
	"education":            6017,
	"entertainment":        6016,
	"finance":              6015,
	"food_drink":           6023,
	"health_fitness":       6013,
	"lifestyle":            6012,
	"medical":              6020,
	"music":                6011,
	"navigation":           6010,
	"news":                 6009,
	"photo_video":          6008,
	"productivity":         6007,
	"reference":            6006,
	"shopping":             6024,
	"social_networking":    6005,
	"sports":               6004,
	"travel":               6003,
	"utilities":            6002,
	"weather":              6001,
	"books":                6018,
	"magazines_newspapers": 6021,
	"developer_tools":      6026,
	"graphics_design":      6027,
}

// LookupCategory returns the category for a given name.
func LookupCategory(name string) (Category, bool) {
	id, ok := categories[name]
	if !ok {
		return Category{}, false
	}
	return Category{Name: name, GenreID: id}, true
}

// AllCategories returns every known category sorted by name.
func AllCategories() []Category {
	out := make([]Category, 0, len(categories))
	for name, id := range categories {
		out = append(out, Category{Name: name, GenreID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CategoryNames returns the sorted list of known category names.
func CategoryNames() []string {
	cats := AllCategories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names
}
