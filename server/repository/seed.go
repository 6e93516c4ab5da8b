package repository

import "strconv"

// Seed returns the fixture data: three articles with five comments each.
// Comment ids run 1 to 15 with contents A to O.
func Seed() ([]Article, []Comment) {
	articles := []Article{
		{ID: "1", Title: "First article"},
		{ID: "2", Title: "Second article"},
		{ID: "3", Title: "Third article"},
	}
	comments := make([]Comment, 0, 15)
	for i := range 15 {
		comments = append(comments, Comment{
			ID:        strconv.Itoa(i + 1),
			ArticleID: articles[i/5].ID,
			Content:   string(rune('A' + i)),
		})
	}
	return articles, comments
}
