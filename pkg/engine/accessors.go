package engine

import (
	"sort"
	"time"
)

// Document returns a copy of the open document's metadata
func (e *Engine) Document() (Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc == nil {
		return Document{}, false
	}
	return e.documentLocked(), true
}

func (e *Engine) documentLocked() Document {
	d := *e.doc
	d.Genres = append([]string(nil), d.Genres...)
	d.Tags = append([]string(nil), d.Tags...)
	return d
}

// Characters returns the story's characters in order
func (e *Engine) Characters() []Character {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Character(nil), e.characters...)
}

// Locations returns the story's locations in order
func (e *Engine) Locations() []Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Location(nil), e.locations...)
}

// Acts returns the story's acts in order
func (e *Engine) Acts() []Act {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Act(nil), e.acts...)
}

// ChaptersForAct returns the chapters of actID in order
func (e *Engine) ChaptersForAct(actID string) []Chapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chaptersForActLocked(actID)
}

func (e *Engine) chaptersForActLocked(actID string) []Chapter {
	chapters := make([]Chapter, 0)
	for _, ch := range e.chapters {
		if ch.ActID == actID {
			chapters = append(chapters, ch.clone())
		}
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })
	return chapters
}

// Chapter returns one chapter
func (e *Engine) Chapter(id string) (Chapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.chapters[id]
	if !ok {
		return Chapter{}, false
	}
	return ch.clone(), true
}

// ChapterText returns a chapter's in-memory text
func (e *Engine) ChapterText(id string) string {
	c, _ := e.ChapterContent(id)
	return c.Text
}

// ChapterContent returns a chapter's text with counts and save state
func (e *Engine) ChapterContent(id string) (ChapterContent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.chapters[id]; !ok {
		return ChapterContent{}, false
	}
	t := e.texts[id]
	c := ChapterContent{ChapterID: id, State: StateEmpty}
	if t != nil {
		c.Text, c.WordCount, c.CharCount = t.text, t.words, t.chars
	}
	if u := e.units[ChapterUnit(id)]; u != nil {
		c.State, c.LastSavedAt = u.state, u.savedAt
	}
	return c, true
}

// Body returns a poem's text
func (e *Engine) Body() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.body.text
}

// UnitStatus returns the save state of one unit. Unknown units are empty.
func (e *Engine) UnitStatus(key string) UnitStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := UnitStatus{Unit: key, State: StateEmpty}
	if u := e.units[key]; u != nil {
		st.State, st.Err, st.LastSavedAt = u.state, u.err, u.savedAt
	}
	return st
}

// Units returns the save state of every unit, sorted by key
func (e *Engine) Units() []UnitStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]UnitStatus, 0, len(e.units))
	for key, u := range e.units {
		out = append(out, UnitStatus{Unit: key, State: u.state, Err: u.err, LastSavedAt: u.savedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out
}

// LastSavedAt is the most recent successful save of any unit
func (e *Engine) LastSavedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	var last time.Time
	for _, u := range e.units {
		if u.savedAt.After(last) {
			last = u.savedAt
		}
	}
	return last
}

// WordCount is the document's total word count
func (e *Engine) WordCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc == nil {
		return 0
	}
	return e.doc.WordCount
}

// ReadingTime is the document's reading time in minutes
func (e *Engine) ReadingTime() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc == nil {
		return 0
	}
	return e.doc.ReadingTime
}

// PoemStats summarizes the open poem's body
func (e *Engine) PoemStats() PoemStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ComputePoemStats(e.body.text, e.opts.ReadingWPM)
}
