package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// DefaultAvatar is shown for guests.
const DefaultAvatar = "/default-profile.png"

// Identity is the authenticated actor. A guest is represented by a nil *Identity.
type Identity struct {
	Subject string `json:"id"`
	Email   string `json:"email"`
}

// Favorite links an identity to a title. Existence means "favorited".
type Favorite struct {
	UserID  string `json:"user_id"`
	TitleID string `json:"drama_id"`
}

// AvatarURL returns the Gravatar identicon for an email address.
func AvatarURL(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return DefaultAvatar
	}
	sum := md5.Sum([]byte(email))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}
