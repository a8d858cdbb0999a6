package domain

import (
	"errors"
	"strings"
)

// Genres is the fixed catalogue offered by the genre filter view.
var Genres = []string{"Romance", "Comedy", "Thriller", "Revenge", "Legal", "Survival", "Fantasy", "Action"}

// Title is a cataloged drama entry. MeanRating is derived locally on every
// snapshot rebuild and is never written back to the store.
type Title struct {
	ID         string   `json:"id"`
	Name       string   `json:"title"`
	PosterURL  string   `json:"poster_url"`
	Year       int      `json:"year"`
	Genres     []string `json:"genre"`
	Cast       []string `json:"actors"`
	Synopsis   string   `json:"description"`
	MeanRating float64  `json:"avg_rating"`
}

// HasGenre reports whether the title is tagged with genre.
func (t Title) HasGenre(genre string) bool {
	for _, g := range t.Genres {
		if g == genre {
			return true
		}
	}
	return false
}

// HasCastMember reports whether name appears in the cast list.
func (t Title) HasCastMember(name string) bool {
	for _, c := range t.Cast {
		if c == name {
			return true
		}
	}
	return false
}

// TitleInput carries the editable fields of a title. An empty ID means insert.
type TitleInput struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"title"`
	PosterURL string   `json:"poster_url"`
	Year      int      `json:"year"`
	Genres    []string `json:"genre"`
	Cast      []string `json:"actors"`
	Synopsis  string   `json:"description"`
}

// Normalize trims free-text fields and drops empty tags.
func (in TitleInput) Normalize() TitleInput {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.PosterURL = strings.TrimSpace(in.PosterURL)
	in.Synopsis = strings.TrimSpace(in.Synopsis)
	in.Genres = compact(in.Genres)
	in.Cast = compact(in.Cast)
	return in
}

// Validate checks the fields the store requires.
func (in TitleInput) Validate() error {
	if in.Name == "" {
		return errors.New("title is required")
	}
	if in.Year <= 0 {
		return errors.New("year must be positive")
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
