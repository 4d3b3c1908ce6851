package models

// Categories is the fixed set of subjects a search can be narrowed to.
var Categories = []string{
	"Architecture",
	"Art & Fashion",
	"Biography",
	"Business",
	"Crafts & Hobbies",
	"Drama",
	"Fiction",
	"Food & Drink",
	"Health & Wellbeing",
	"History & Politics",
	"Humor",
	"Poetry",
	"Psychology",
	"Science",
	"Technology",
	"Travel & Maps",
}

func IsCategory(name string) bool {
	return CategoryIndex(name) >= 0
}

// CategoryIndex returns the position of name in Categories, or -1.
func CategoryIndex(name string) int {
	for i, c := range Categories {
		if c == name {
			return i
		}
	}
	return -1
}
