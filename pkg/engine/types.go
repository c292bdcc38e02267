// ABOUTME: Document graph types and per-unit save states exposed by the engine
// ABOUTME: Values returned to callers are copies; the engine owns the originals

package engine

import (
	"strings"
	"time"
)

// Kind distinguishes story documents from poems
type Kind string

const (
	KindStory Kind = "story"
	KindPoem  Kind = "poem"
)

// Privacy levels; an unset privacy is written as private
const (
	PrivacyPrivate  = "private"
	PrivacyPublic   = "public"
	PrivacyUnlisted = "unlisted"
)

// Location settings
const (
	SettingInterior = "INT"
	SettingExterior = "EXT"
)

// State is the visible save state of one unit
type State string

const (
	StateEmpty   State = "empty"   // no content yet
	StateWriting State = "writing" // edited, save pending
	StateSyncing State = "syncing" // save in flight
	StateIdle    State = "idle"    // saved and non-empty
	StateError   State = "error"   // last save failed
	StateOffline State = "offline" // connectivity or sign-in absent
)

// Unit keys for independently saved parts of a document
const (
	UnitMeta       = "meta"
	UnitBody       = "body"
	UnitCharacters = "characters"
	UnitLocations  = "locations"
	UnitStructure  = "structure"

	chapterUnitPrefix = "chapter/"
)

// ChapterUnit returns the unit key for a chapter's text
func ChapterUnit(chapterID string) string {
	return chapterUnitPrefix + chapterID
}

// unitKind returns the metric label for a unit key
func unitKind(unit string) string {
	if strings.HasPrefix(unit, chapterUnitPrefix) {
		return "chapter"
	}
	return unit
}

// Document is the open document's metadata with derived statistics
type Document struct {
	ID             string
	Kind           Kind
	Title          string
	Privacy        string
	Genres         []string
	Audience       string
	ExcerptHeading string
	ExcerptBody    string
	CoverImageID   string
	CoverImageURL  string
	Tags           []string // poems only
	WordCount      int
	ReadingTime    int // minutes
	UpdatedAt      time.Time
}

// Character is a story-scoped person
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Initials string `json:"initials"`
	Order    int    `json:"order"`
}

// CharacterUpdate changes the set fields of a character
type CharacterUpdate struct {
	Name   *string
	Avatar *string
}

// Location is a story-scoped place
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Setting     string `json:"setting"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Order       int    `json:"order"`
}

// LocationUpdate changes the set fields of a location
type LocationUpdate struct {
	Name        *string
	Setting     *string
	Description *string
	Image       *string
}

// Act orders chapters within a story
type Act struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Chapter belongs to exactly one act. Text lives in its own unit.
type Chapter struct {
	ID           string    `json:"id"`
	ActID        string    `json:"-"`
	Title        string    `json:"title"`
	Order        int       `json:"order"`
	CharacterIDs []string  `json:"characterIds"`
	LocationIDs  []string  `json:"locationIds"`
	Expanded     bool      `json:"expanded"`
	LastEditedAt time.Time `json:"lastEditedAt"`
}

func (c Chapter) clone() Chapter {
	c.CharacterIDs = append([]string(nil), c.CharacterIDs...)
	c.LocationIDs = append([]string(nil), c.LocationIDs...)
	return c
}

// ChapterContent is a chapter's text with derived counts and save state
type ChapterContent struct {
	ChapterID   string
	Text        string
	WordCount   int
	CharCount   int
	State       State
	LastSavedAt time.Time
}

// UnitStatus is the save state of one unit
type UnitStatus struct {
	Unit        string
	State       State
	Err         error // set in StateError
	LastSavedAt time.Time
}

// PoemStats summarizes a poem body
type PoemStats struct {
	Lines       int
	Stanzas     int
	Words       int
	ReadingTime int
}
