package engine

import (
	"time"
)

// metaRecord is the persisted document metadata
type metaRecord struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	UserID         string    `json:"uid,omitempty"`
	Title          string    `json:"title"`
	Privacy        string    `json:"privacy"`
	Genres         []string  `json:"genres"`
	Audience       string    `json:"audience,omitempty"`
	ExcerptHeading string    `json:"excerptHeading,omitempty"`
	ExcerptBody    string    `json:"excerptBody,omitempty"`
	CoverImageID   string    `json:"coverImageId,omitempty"`
	CoverImageURL  string    `json:"coverImageUrl,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	WordCount      int       `json:"wordCount"`
	ReadingTime    int       `json:"readingTime"`
	LineCount      int       `json:"lineCount,omitempty"`
	StanzaCount    int       `json:"stanzaCount,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type charactersRecord struct {
	Characters []Character `json:"characters"`
}

type locationsRecord struct {
	Locations []Location `json:"locations"`
}

// structureRecord holds acts with their chapter stubs; text is stored apart
type structureRecord struct {
	Acts      []actRecord `json:"acts"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type actRecord struct {
	Act
	Chapters []Chapter `json:"chapters"`
}

// contentRecord describes a chunked text unit
type contentRecord struct {
	WordCount   int       `json:"wordCount"`
	CharCount   int       `json:"charCount"`
	State       State     `json:"state"`
	LastSavedAt time.Time `json:"lastSavedAt"`
	PartCount   int       `json:"partCount"`
}

func (d *Document) toRecord(userID string, poem PoemStats, now time.Time) metaRecord {
	privacy := d.Privacy
	if privacy == "" {
		privacy = PrivacyPrivate
	}
	rec := metaRecord{
		ID:             d.ID,
		Kind:           d.Kind,
		UserID:         userID,
		Title:          d.Title,
		Privacy:        privacy,
		Genres:         append([]string{}, d.Genres...),
		Audience:       d.Audience,
		ExcerptHeading: d.ExcerptHeading,
		ExcerptBody:    d.ExcerptBody,
		CoverImageID:   d.CoverImageID,
		CoverImageURL:  d.CoverImageURL,
		WordCount:      d.WordCount,
		ReadingTime:    d.ReadingTime,
		UpdatedAt:      now,
	}
	if d.Kind == KindPoem {
		rec.Tags = append([]string{}, d.Tags...)
		rec.LineCount = poem.Lines
		rec.StanzaCount = poem.Stanzas
	}
	return rec
}

func (r metaRecord) toDocument() Document {
	return Document{
		ID:             r.ID,
		Kind:           r.Kind,
		Title:          r.Title,
		Privacy:        r.Privacy,
		Genres:         r.Genres,
		Audience:       r.Audience,
		ExcerptHeading: r.ExcerptHeading,
		ExcerptBody:    r.ExcerptBody,
		CoverImageID:   r.CoverImageID,
		CoverImageURL:  r.CoverImageURL,
		Tags:           r.Tags,
		WordCount:      r.WordCount,
		ReadingTime:    r.ReadingTime,
		UpdatedAt:      r.UpdatedAt,
	}
}
