package domain

import (
	"errors"
	"math"
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is one identity's rating and opinion about one title.
type Review struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TitleID   string    `json:"drama_id"`
	Rating    int       `json:"rating"`
	Body      string    `json:"review_text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewInput carries the caller-editable review fields. The author is never
// taken from here; it is stamped from the current identity.
type ReviewInput struct {
	ID      string `json:"id,omitempty"`
	TitleID string `json:"drama_id"`
	Rating  int    `json:"rating"`
	Body    string `json:"review_text"`
}

// Validate checks rating bounds and the title reference.
func (in ReviewInput) Validate() error {
	if strings.TrimSpace(in.TitleID) == "" && strings.TrimSpace(in.ID) == "" {
		return errors.New("drama_id is required")
	}
	if in.Rating < MinRating || in.Rating > MaxRating {
		return errors.New("rating must be between 1 and 5")
	}
	return nil
}

// RatingAggregate provides average and count for a title's reviews.
type RatingAggregate struct {
	Average float64
	Count   int
}

// Aggregate computes the mean rating of reviews matching titleID, rounded to one
// decimal place. No reviews yields a zero average.
func Aggregate(reviews []Review, titleID string) RatingAggregate {
	var sum, count int
	for _, r := range reviews {
		if r.TitleID != titleID {
			continue
		}
		sum += r.Rating
		count++
	}
	if count == 0 {
		return RatingAggregate{}
	}
	return RatingAggregate{
		Average: RoundToOneDecimal(float64(sum) / float64(count)),
		Count:   count,
	}
}

// RoundToOneDecimal rounds half away from zero at the first decimal.
func RoundToOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10.0
}
