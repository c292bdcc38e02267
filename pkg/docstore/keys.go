// ABOUTME: Record key layout for documents, units, leases and activity
// ABOUTME: One key family per record shape, addressed by document or user id

package docstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Key family roots
const (
	RootDocuments = "documents"
	RootUsers     = "users"
)

// DocumentKey addresses the document metadata record
func DocumentKey(documentID string) string {
	return RootDocuments + "/" + documentID
}

// CharactersKey addresses the character collection of a document
func CharactersKey(documentID string) string {
	return DocumentKey(documentID) + "/characters"
}

// LocationsKey addresses the location collection of a document
func LocationsKey(documentID string) string {
	return DocumentKey(documentID) + "/locations"
}

// StructureKey addresses the act/chapter structural record of a document
func StructureKey(documentID string) string {
	return DocumentKey(documentID) + "/structure"
}

// LeaseKey addresses the single lease record of a user
func LeaseKey(userID string) string {
	return RootUsers + "/" + userID + "/activeSession/current"
}

// ActivityKey addresses one day of writing activity for a user
func ActivityKey(userID, date string) string {
	return RootUsers + "/" + userID + "/writingActivity/" + date
}

// TextKeys addresses the chunked records of one text unit
type TextKeys struct {
	DocumentID string
	Unit       string // e.g. "chapter-<id>" or "body"
}

// ChapterTextKeys returns the text keys for a chapter body
func ChapterTextKeys(documentID, chapterID string) TextKeys {
	return TextKeys{DocumentID: documentID, Unit: "chapter-" + chapterID}
}

// BodyTextKeys returns the text keys for a poem body
func BodyTextKeys(documentID string) TextKeys {
	return TextKeys{DocumentID: documentID, Unit: "body"}
}

func (k TextKeys) base() string {
	return DocumentKey(k.DocumentID) + "/units/" + k.Unit
}

// Meta addresses the content metadata record (counts, state, part count)
func (k TextKeys) Meta() string {
	return k.base() + "/content"
}

// Part addresses fragment n
func (k TextKeys) Part(n int) string {
	return k.base() + "/parts/" + strconv.Itoa(n)
}

// ParsePartIndex extracts n from a key produced by Part
func ParsePartIndex(key string) (int, error) {
	i := strings.LastIndex(key, "/parts/")
	if i < 0 {
		return 0, fmt.Errorf("not a part key: %s", key)
	}
	return strconv.Atoi(key[i+len("/parts/"):])
}
