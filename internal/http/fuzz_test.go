package httpserver

import (
	"net/url"
	"testing"
)

func FuzzBuildTitleFilters(f *testing.F) {
	seeds := []string{
		"q=Glory&genre=Revenge&year=2022",
		"year=abc",
		"sort=rating&limit=4",
		"limit=-3",
		"",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		values, err := url.ParseQuery(raw)
		if err != nil {
			return
		}
		filters, err := buildTitleFilters(values)
		if err != nil {
			return
		}
		if filters.Limit < 0 {
			t.Fatalf("negative limit accepted: %d", filters.Limit)
		}
		if _, ok := allowedSorts[filters.Sort]; !ok {
			t.Fatalf("unexpected sort %q", filters.Sort)
		}
	})
}
