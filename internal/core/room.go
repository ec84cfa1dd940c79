package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Room is a topic chat channel. Immutable once created.
type Room struct {
	ID          string
	DisplayName string
}

// NewRoom builds a room from a topic name such as "Student Life".
func NewRoom(topic string) Room {
	name := strings.TrimSpace(topic)
	return Room{ID: Slug(name), DisplayName: name}
}

// RoomFromSlug builds a room when only the slug is known.
func RoomFromSlug(slug string) Room {
	id := Slug(slug)
	return Room{ID: id, DisplayName: displayName(id)}
}

// DefaultTopics is the catalog offered by the topic picker.
func DefaultTopics() []Room {
	names := []string{"Anxiety", "Student Life", "Relationships", "Loneliness", "Depression", "Self-Improvement"}
	rooms := make([]Room, 0, len(names))
	for _, n := range names {
		rooms = append(rooms, NewRoom(n))
	}
	return rooms
}

// Slug lower-cases s, strips accents and collapses every other run of
// non-alphanumerics into a single dash.
func Slug(s string) string {
	// Chains keep state between calls, so each call builds its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func displayName(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}
