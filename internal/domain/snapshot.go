package domain

import (
	"sort"
	"time"
)

// Snapshot is the complete in-memory copy of the three collections held
// between refreshes. A published snapshot is never mutated.
type Snapshot struct {
	Generation  uint64     `json:"generation"`
	RefreshedAt time.Time  `json:"refreshed_at"`
	Titles      []Title    `json:"titles"`
	Reviews     []Review   `json:"reviews"`
	Favorites   []Favorite `json:"favorites"`
}

// BuildSnapshot derives mean ratings for every title from reviews and assembles
// a new snapshot. The titles slice is copied.
func BuildSnapshot(titles []Title, reviews []Review, favorites []Favorite) *Snapshot {
	rated := make([]Title, len(titles))
	for i, t := range titles {
		t.MeanRating = Aggregate(reviews, t.ID).Average
		rated[i] = t
	}
	if reviews == nil {
		reviews = []Review{}
	}
	if favorites == nil {
		favorites = []Favorite{}
	}
	return &Snapshot{
		Titles:    rated,
		Reviews:   reviews,
		Favorites: favorites,
	}
}

// Title looks up a title by identifier.
func (s *Snapshot) Title(id string) (Title, bool) {
	for _, t := range s.Titles {
		if t.ID == id {
			return t, true
		}
	}
	return Title{}, false
}

// Newest returns up to n titles ordered by release year, newest first.
func (s *Snapshot) Newest(n int) []Title {
	sorted := append([]Title(nil), s.Titles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year > sorted[j].Year })
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// ByGenre returns titles tagged with genre. An empty genre matches everything.
func (s *Snapshot) ByGenre(genre string) []Title {
	out := make([]Title, 0)
	for _, t := range s.Titles {
		if genre == "" || t.HasGenre(genre) {
			out = append(out, t)
		}
	}
	return out
}

// ByCastMember returns the filmography of an actor.
func (s *Snapshot) ByCastMember(name string) []Title {
	out := make([]Title, 0)
	for _, t := range s.Titles {
		if t.HasCastMember(name) {
			out = append(out, t)
		}
	}
	return out
}

// ReviewsFor returns the reviews of a title.
func (s *Snapshot) ReviewsFor(titleID string) []Review {
	out := make([]Review, 0)
	for _, r := range s.Reviews {
		if r.TitleID == titleID {
			out = append(out, r)
		}
	}
	return out
}

// ReviewsBy returns the reviews written by userID.
func (s *Snapshot) ReviewsBy(userID string) []Review {
	out := make([]Review, 0)
	for _, r := range s.Reviews {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// IsFavorite reports whether userID has favorited titleID.
func (s *Snapshot) IsFavorite(userID, titleID string) bool {
	for _, f := range s.Favorites {
		if f.UserID == userID && f.TitleID == titleID {
			return true
		}
	}
	return false
}

// FavoriteTitles returns the titles userID has favorited.
func (s *Snapshot) FavoriteTitles(userID string) []Title {
	out := make([]Title, 0)
	for _, t := range s.Titles {
		if s.IsFavorite(userID, t.ID) {
			out = append(out, t)
		}
	}
	return out
}
