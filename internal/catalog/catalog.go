// Package catalog supplies the records the prefix index is loaded from: the
// built-in sample movies, or a PostgreSQL "movies" table.
package catalog

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
)

// Source yields the full set of records to index.
type Source interface {
	Records(ctx context.Context) ([]search.Record, error)
}

// Static is a Source over a fixed slice.
type Static []search.Record

func (s Static) Records(context.Context) ([]search.Record, error) {
	out := make([]search.Record, len(s))
	copy(out, s)
	return out, nil
}

// SampleMovies returns the demo dataset.
func SampleMovies() Static {
	return Static{
		{ID: 1, Name: "Kill Bill", Year: 2003},
		{ID: 2, Name: "King Kong", Year: 2005},
		{ID: 3, Name: "Killer Elite", Year: 2011},
		{ID: 4, Name: "Kilts for Bill", Year: 2027},
		{ID: 5, Name: "Kill Bill 2", Year: 2004},
		{ID: 6, Name: "Kids", Year: 1995},
		{ID: 7, Name: "Kindergarten Cop", Year: 1990},
		{ID: 8, Name: "The Green Mile", Year: 1999},
		{ID: 9, Name: "The Dark Knight", Year: 2008},
		{ID: 10, Name: "The Dark Knight Rises", Year: 2012},
	}
}
