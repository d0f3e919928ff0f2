package cache

import "fmt"

// Key templates for every cache entry the service owns. Each entry is a
// (template, entity id[, sub-key]) pair; any value stored under one of
// these keys must be reconstructible from postgres/mongo.
const (
	keyUserPermissions    = "permissions_%d"              // user id
	keyUserMenus          = "menus_%d"                    // user id
	keyNoteDetail         = "note_%d"                     // note id
	keyUserNotes          = "user_notes_%d"               // user id
	keyKnowledgeBases     = "knowledge_bases_%d"          // owner user id
	keyKnowledgeBaseNotes = "knowledge_base_notes_%d_%d"  // kb id, page
	keyEmailCode          = "email_%s"                    // email address
	keyRateLimit          = "rate_limit_%s_%s"            // client ip, path
	keyNoteList           = "notes_list_%d_%d_%s_%s_%s_%s" // page, size, type, status, min/max price
)

// MaxCachedPages bounds how many pages of a knowledge-base note listing the
// invalidator purges. Pages beyond the cap may serve stale data until their
// TTL expires.
const MaxCachedPages = 10

func UserPermissionsKey(userID int64) string { return fmt.Sprintf(keyUserPermissions, userID) }

func UserMenusKey(userID int64) string { return fmt.Sprintf(keyUserMenus, userID) }

func NoteDetailKey(noteID int64) string { return fmt.Sprintf(keyNoteDetail, noteID) }

func UserNotesKey(userID int64) string { return fmt.Sprintf(keyUserNotes, userID) }

func KnowledgeBasesKey(ownerID int64) string { return fmt.Sprintf(keyKnowledgeBases, ownerID) }

func KnowledgeBaseNotesKey(kbID int64, page int) string {
	return fmt.Sprintf(keyKnowledgeBaseNotes, kbID, page)
}

func EmailCodeKey(email string) string { return fmt.Sprintf(keyEmailCode, email) }

func RateLimitKey(ip, path string) string { return fmt.Sprintf(keyRateLimit, ip, path) }

// NoteListKey builds the global note listing key from the full parameter
// tuple. Optional filters encode as "-" when unset so every distinct query
// shape maps to exactly one key.
func NoteListKey(page, pageSize int, noteType, status *int, minPrice, maxPrice *float64) string {
	return fmt.Sprintf(keyNoteList, page, pageSize,
		optInt(noteType), optInt(status), optFloat(minPrice), optFloat(maxPrice))
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
