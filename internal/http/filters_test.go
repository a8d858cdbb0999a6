package httpserver

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/kdbuddy/kdbuddy/internal/domain"
)

func TestBuildTitleFilters(t *testing.T) {
	values, _ := url.ParseQuery("q= Glory &year=2022&genre=Revenge&actor= Song Hye-kyo &sort=Rating&limit=3")

	filters, err := buildTitleFilters(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.Query == nil || *filters.Query != "Glory" {
		t.Fatalf("query not trimmed: %+v", filters.Query)
	}
	if filters.Year == nil || *filters.Year != 2022 {
		t.Fatalf("year parse failed: %+v", filters.Year)
	}
	if filters.Genre == nil || *filters.Genre != "Revenge" {
		t.Fatalf("genre parse failed: %+v", filters.Genre)
	}
	if filters.Actor == nil || *filters.Actor != "Song Hye-kyo" {
		t.Fatalf("actor parse failed")
	}
	if filters.Sort != "rating" {
		t.Fatalf("sort not normalised: %q", filters.Sort)
	}
	if filters.Limit != 3 {
		t.Fatalf("limit not parsed: %d", filters.Limit)
	}
}

func TestBuildTitleFilters_Invalid(t *testing.T) {
	for _, raw := range []string{"year=abc", "sort=views", "limit=-1", "limit=ten"} {
		values, _ := url.ParseQuery(raw)
		if _, err := buildTitleFilters(values); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestApplyTitleFilters(t *testing.T) {
	titles := []domain.Title{
		{ID: "1", Name: "The Glory", Year: 2022, Genres: []string{"Revenge", "Thriller"}, Cast: []string{"Song Hye-kyo"}, MeanRating: 4.5},
		{ID: "2", Name: "Extraordinary Attorney Woo", Year: 2022, Genres: []string{"Legal", "Comedy"}, Cast: []string{"Park Eun-bin"}, MeanRating: 4.8},
		{ID: "3", Name: "Crash Landing on You", Year: 2019, Genres: []string{"Romance", "Comedy"}, Cast: []string{"Hyun Bin", "Son Ye-jin"}, MeanRating: 4.7},
	}

	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{"no filters", "", []string{"1", "2", "3"}},
		{"query is case insensitive", "q=glory", []string{"1"}},
		{"genre", "genre=Comedy", []string{"2", "3"}},
		{"actor", "actor=Hyun Bin", []string{"3"}},
		{"year", "year=2022", []string{"1", "2"}},
		{"sort by rating", "sort=rating", []string{"2", "3", "1"}},
		{"sort by title", "sort=title", []string{"3", "2", "1"}},
		{"sort by year keeps order for ties", "sort=year", []string{"1", "2", "3"}},
		{"limit", "sort=rating&limit=1", []string{"2"}},
		{"no match", "genre=Fantasy", []string{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			values, _ := url.ParseQuery(c.query)
			filters, err := buildTitleFilters(values)
			if err != nil {
				t.Fatalf("build filters: %v", err)
			}
			got := applyTitleFilters(titles, filters)
			ids := make([]string, 0, len(got))
			for _, title := range got {
				ids = append(ids, title.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(c.want) {
				t.Fatalf("got %v, want %v", ids, c.want)
			}
		})
	}
}

func BenchmarkApplyTitleFilters(b *testing.B) {
	titles := make([]domain.Title, 0, 500)
	for i := 0; i < 500; i++ {
		titles = append(titles, domain.Title{
			ID:         fmt.Sprintf("t-%d", i),
			Name:       fmt.Sprintf("Drama %d", i),
			Year:       2000 + i%25,
			Genres:     []string{domain.Genres[i%len(domain.Genres)]},
			MeanRating: float64(i%50) / 10,
		})
	}
	values, _ := url.ParseQuery("genre=Romance&sort=rating&limit=20")
	filters, err := buildTitleFilters(values)
	if err != nil {
		b.Fatalf("build filters: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = applyTitleFilters(titles, filters)
	}
}
