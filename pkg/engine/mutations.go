// ABOUTME: Mutation entry points for metadata, text and the story structure
// ABOUTME: Memory changes first; each mutation then schedules the saves it affects

package engine

import (
	"fmt"
	"slices"
)

// setMeta applies fn to the metadata and schedules the meta save
func (e *Engine) setMeta(fn func(d *Document) error) error {
	return e.mutate(func() error {
		if err := fn(e.doc); err != nil {
			return err
		}
		e.touchLocked(UnitMeta, e.opts.MetaDebounce)
		return nil
	})
}

// SetTitle sets the document title
func (e *Engine) SetTitle(title string) error {
	return e.setMeta(func(d *Document) error {
		d.Title = title
		return nil
	})
}

// SetPrivacy sets private, public or unlisted
func (e *Engine) SetPrivacy(privacy string) error {
	return e.setMeta(func(d *Document) error {
		switch privacy {
		case PrivacyPrivate, PrivacyPublic, PrivacyUnlisted:
		default:
			return fmt.Errorf("%w: privacy %q", ErrInvalidValue, privacy)
		}
		d.Privacy = privacy
		return nil
	})
}

func (e *Engine) SetGenres(genres []string) error {
	return e.setMeta(func(d *Document) error {
		d.Genres = append([]string(nil), genres...)
		return nil
	})
}

func (e *Engine) SetAudience(audience string) error {
	return e.setMeta(func(d *Document) error {
		d.Audience = audience
		return nil
	})
}

func (e *Engine) SetExcerptHeading(heading string) error {
	return e.setMeta(func(d *Document) error {
		d.ExcerptHeading = heading
		return nil
	})
}

func (e *Engine) SetExcerptBody(body string) error {
	return e.setMeta(func(d *Document) error {
		d.ExcerptBody = body
		return nil
	})
}

// SetCoverImage sets the uploaded cover's id and URL
func (e *Engine) SetCoverImage(imageID, url string) error {
	return e.setMeta(func(d *Document) error {
		d.CoverImageID = imageID
		d.CoverImageURL = url
		return nil
	})
}

func (e *Engine) ClearCoverImage() error {
	return e.SetCoverImage("", "")
}

// SetTags sets a poem's tags
func (e *Engine) SetTags(tags []string) error {
	return e.setMeta(func(d *Document) error {
		if err := e.requireKindLocked(KindPoem); err != nil {
			return err
		}
		d.Tags = append([]string(nil), tags...)
		return nil
	})
}

// SetChapterText replaces a chapter's text and schedules the chapter and
// metadata saves with the text debounce window
func (e *Engine) SetChapterText(chapterID, text string) error {
	return e.mutate(func() error {
		if err := e.requireKindLocked(KindStory); err != nil {
			return err
		}
		ch, ok := e.chapters[chapterID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChapter, chapterID)
		}
		t := e.texts[chapterID]
		if t == nil {
			t = &textUnit{}
			e.texts[chapterID] = t
		}
		t.set(text)
		ch.LastEditedAt = e.opts.Now().UTC()

		e.recomputeLocked()
		e.touchLocked(ChapterUnit(chapterID), e.opts.TextDebounce)
		e.touchLocked(UnitMeta, e.opts.TextDebounce)
		return nil
	})
}

// SetBody replaces a poem's text
func (e *Engine) SetBody(text string) error {
	return e.mutate(func() error {
		if err := e.requireKindLocked(KindPoem); err != nil {
			return err
		}
		e.body.set(text)

		e.recomputeLocked()
		e.touchLocked(UnitBody, e.opts.TextDebounce)
		e.touchLocked(UnitMeta, e.opts.TextDebounce)
		return nil
	})
}

// structure runs a story-only structural edit
func (e *Engine) structure(fn func() error) error {
	return e.mutate(func() error {
		if err := e.requireKindLocked(KindStory); err != nil {
			return err
		}
		return fn()
	})
}

// AddCharacter appends a character to the story's pool
func (e *Engine) AddCharacter(name, avatar string) (Character, error) {
	var c Character
	err := e.structure(func() error {
		if len(e.characters) >= e.opts.MaxCharacters {
			return fmt.Errorf("%w: at most %d characters", ErrLimitExceeded, e.opts.MaxCharacters)
		}
		c = Character{
			ID:       e.opts.NewID(),
			Name:     name,
			Avatar:   avatar,
			Initials: Initials(name),
			Order:    len(e.characters),
		}
		e.characters = append(e.characters, c)
		e.touchLocked(UnitCharacters, immediate)
		return nil
	})
	return c, err
}

// UpdateCharacter changes the fields set in upd
func (e *Engine) UpdateCharacter(id string, upd CharacterUpdate) error {
	return e.structure(func() error {
		i := slices.IndexFunc(e.characters, func(c Character) bool { return c.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
		}
		c := &e.characters[i]
		if upd.Name != nil {
			c.Name = *upd.Name
			c.Initials = Initials(*upd.Name)
		}
		if upd.Avatar != nil {
			c.Avatar = *upd.Avatar
		}
		e.touchLocked(UnitCharacters, immediate)
		return nil
	})
}

// RemoveCharacter deletes a character and strips it from every chapter
func (e *Engine) RemoveCharacter(id string) error {
	return e.structure(func() error {
		i := slices.IndexFunc(e.characters, func(c Character) bool { return c.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
		}
		e.characters = slices.Delete(e.characters, i, i+1)
		for n := range e.characters {
			e.characters[n].Order = n
		}

		if e.stripLocked(func(ch *Chapter) *[]string { return &ch.CharacterIDs }, id) {
			e.touchLocked(UnitStructure, immediate)
		}
		e.touchLocked(UnitCharacters, immediate)
		return nil
	})
}

// AddLocation appends a location. An empty setting means interior.
func (e *Engine) AddLocation(name, setting, description string) (Location, error) {
	var l Location
	err := e.structure(func() error {
		if setting == "" {
			setting = SettingInterior
		}
		if err := validSetting(setting); err != nil {
			return err
		}
		l = Location{
			ID:          e.opts.NewID(),
			Name:        name,
			Setting:     setting,
			Description: description,
			Order:       len(e.locations),
		}
		e.locations = append(e.locations, l)
		e.touchLocked(UnitLocations, immediate)
		return nil
	})
	return l, err
}

func validSetting(setting string) error {
	if setting != SettingInterior && setting != SettingExterior {
		return fmt.Errorf("%w: setting %q", ErrInvalidValue, setting)
	}
	return nil
}

// UpdateLocation changes the fields set in upd
func (e *Engine) UpdateLocation(id string, upd LocationUpdate) error {
	return e.structure(func() error {
		i := slices.IndexFunc(e.locations, func(l Location) bool { return l.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownLocation, id)
		}
		if upd.Setting != nil {
			if err := validSetting(*upd.Setting); err != nil {
				return err
			}
		}
		l := &e.locations[i]
		if upd.Name != nil {
			l.Name = *upd.Name
		}
		if upd.Setting != nil {
			l.Setting = *upd.Setting
		}
		if upd.Description != nil {
			l.Description = *upd.Description
		}
		if upd.Image != nil {
			l.Image = *upd.Image
		}
		e.touchLocked(UnitLocations, immediate)
		return nil
	})
}

// RemoveLocation deletes a location and strips it from every chapter
func (e *Engine) RemoveLocation(id string) error {
	return e.structure(func() error {
		i := slices.IndexFunc(e.locations, func(l Location) bool { return l.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownLocation, id)
		}
		e.locations = slices.Delete(e.locations, i, i+1)
		for n := range e.locations {
			e.locations[n].Order = n
		}

		if e.stripLocked(func(ch *Chapter) *[]string { return &ch.LocationIDs }, id) {
			e.touchLocked(UnitStructure, immediate)
		}
		e.touchLocked(UnitLocations, immediate)
		return nil
	})
}

// stripLocked removes id from the set field selects on every chapter and
// reports whether any chapter changed
func (e *Engine) stripLocked(field func(*Chapter) *[]string, id string) bool {
	changed := false
	for _, ch := range e.chapters {
		ids := field(ch)
		if i := slices.Index(*ids, id); i >= 0 {
			*ids = slices.Delete(*ids, i, i+1)
			changed = true
		}
	}
	return changed
}

// AddAct appends an act
func (e *Engine) AddAct(title string) (Act, error) {
	var a Act
	err := e.structure(func() error {
		a = Act{ID: e.opts.NewID(), Title: title, Order: len(e.acts)}
		e.acts = append(e.acts, a)
		e.touchLocked(UnitStructure, immediate)
		return nil
	})
	return a, err
}

func (e *Engine) RenameAct(id, title string) error {
	return e.structure(func() error {
		i := e.actIndexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownAct, id)
		}
		e.acts[i].Title = title
		e.touchLocked(UnitStructure, immediate)
		return nil
	})
}

// RemoveAct deletes an act with its chapters and their stored text
func (e *Engine) RemoveAct(id string) error {
	return e.structure(func() error {
		i := e.actIndexLocked(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownAct, id)
		}
		for chID, ch := range e.chapters {
			if ch.ActID == id {
				e.dropChapterLocked(chID)
			}
		}
		e.acts = slices.Delete(e.acts, i, i+1)
		for n := range e.acts {
			e.acts[n].Order = n
		}

		e.recomputeLocked()
		e.touchLocked(UnitStructure, immediate)
		e.touchLocked(UnitMeta, e.opts.MetaDebounce)
		return nil
	})
}

func (e *Engine) actIndexLocked(id string) int {
	return slices.IndexFunc(e.acts, func(a Act) bool { return a.ID == id })
}

// AddChapter appends an empty chapter to an act
func (e *Engine) AddChapter(actID, title string) (Chapter, error) {
	var ch Chapter
	err := e.structure(func() error {
		if e.actIndexLocked(actID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownAct, actID)
		}
		ch = Chapter{
			ID:           e.opts.NewID(),
			ActID:        actID,
			Title:        title,
			Order:        e.countChaptersLocked(actID),
			CharacterIDs: []string{},
			LocationIDs:  []string{},
			Expanded:     true,
			LastEditedAt: e.opts.Now().UTC(),
		}
		stored := ch.clone()
		e.chapters[ch.ID] = &stored
		e.texts[ch.ID] = &textUnit{}
		e.units[ChapterUnit(ch.ID)] = &unit{state: StateEmpty}
		e.touchLocked(UnitStructure, immediate)
		return nil
	})
	return ch, err
}

func (e *Engine) countChaptersLocked(actID string) int {
	n := 0
	for _, ch := range e.chapters {
		if ch.ActID == actID {
			n++
		}
	}
	return n
}

func (e *Engine) RenameChapter(id, title string) error {
	return e.chapterEdit(id, func(ch *Chapter) error {
		ch.Title = title
		ch.LastEditedAt = e.opts.Now().UTC()
		return nil
	})
}

// RemoveChapter deletes a chapter and its stored text
func (e *Engine) RemoveChapter(id string) error {
	return e.structure(func() error {
		ch, ok := e.chapters[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChapter, id)
		}
		actID := ch.ActID
		e.dropChapterLocked(id)
		e.repackLocked(actID)

		e.recomputeLocked()
		e.touchLocked(UnitStructure, immediate)
		e.touchLocked(UnitMeta, e.opts.MetaDebounce)
		return nil
	})
}

// dropChapterLocked removes a chapter from the graph and schedules deletion
// of its fragments and content record
func (e *Engine) dropChapterLocked(id string) {
	delete(e.chapters, id)
	t := e.texts[id]
	if t == nil {
		t = &textUnit{}
		e.texts[id] = t
	}
	t.set("")
	t.removed = true
	e.touchLocked(ChapterUnit(id), immediate)
}

// repackLocked renumbers an act's chapters from zero keeping their order
func (e *Engine) repackLocked(actID string) {
	for i, ch := range e.chaptersForActLocked(actID) {
		e.chapters[ch.ID].Order = i
	}
}

// MoveChapter moves a chapter to index within actID, which may be its
// current act. The index is clamped to the act's bounds.
func (e *Engine) MoveChapter(id, actID string, index int) error {
	return e.structure(func() error {
		ch, ok := e.chapters[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChapter, id)
		}
		if e.actIndexLocked(actID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownAct, actID)
		}

		from := ch.ActID
		siblings := e.chaptersForActLocked(actID)
		siblings = slices.DeleteFunc(siblings, func(c Chapter) bool { return c.ID == id })
		index = max(0, min(index, len(siblings)))
		siblings = slices.Insert(siblings, index, *ch)

		ch.ActID = actID
		for i, c := range siblings {
			e.chapters[c.ID].Order = i
		}
		if from != actID {
			e.repackLocked(from)
		}

		e.recomputeLocked()
		e.touchLocked(UnitStructure, immediate)
		return nil
	})
}

// ToggleChapterExpanded flips a chapter's expanded flag in the outline
func (e *Engine) ToggleChapterExpanded(id string) error {
	return e.chapterEdit(id, func(ch *Chapter) error {
		ch.Expanded = !ch.Expanded
		return nil
	})
}

// AssignCharacter adds a character to a chapter; assigning twice is a no-op
func (e *Engine) AssignCharacter(chapterID, characterID string) error {
	return e.chapterEdit(chapterID, func(ch *Chapter) error {
		if !slices.ContainsFunc(e.characters, func(c Character) bool { return c.ID == characterID }) {
			return fmt.Errorf("%w: %s", ErrUnknownCharacter, characterID)
		}
		if !slices.Contains(ch.CharacterIDs, characterID) {
			ch.CharacterIDs = append(ch.CharacterIDs, characterID)
		}
		return nil
	})
}

func (e *Engine) UnassignCharacter(chapterID, characterID string) error {
	return e.chapterEdit(chapterID, func(ch *Chapter) error {
		ch.CharacterIDs = slices.DeleteFunc(ch.CharacterIDs, func(id string) bool { return id == characterID })
		return nil
	})
}

// AssignLocation adds a location to a chapter; assigning twice is a no-op
func (e *Engine) AssignLocation(chapterID, locationID string) error {
	return e.chapterEdit(chapterID, func(ch *Chapter) error {
		if !slices.ContainsFunc(e.locations, func(l Location) bool { return l.ID == locationID }) {
			return fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
		}
		if !slices.Contains(ch.LocationIDs, locationID) {
			ch.LocationIDs = append(ch.LocationIDs, locationID)
		}
		return nil
	})
}

func (e *Engine) UnassignLocation(chapterID, locationID string) error {
	return e.chapterEdit(chapterID, func(ch *Chapter) error {
		ch.LocationIDs = slices.DeleteFunc(ch.LocationIDs, func(id string) bool { return id == locationID })
		return nil
	})
}

// chapterEdit applies fn to one chapter and saves the structure
func (e *Engine) chapterEdit(id string, fn func(ch *Chapter) error) error {
	return e.structure(func() error {
		ch, ok := e.chapters[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChapter, id)
		}
		if err := fn(ch); err != nil {
			return err
		}
		e.touchLocked(UnitStructure, immediate)
		return nil
	})
}
