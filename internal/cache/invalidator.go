package cache

import "context"

// Invalidator maps each mutation type to the set of cache keys that could
// now be stale and deletes them. Invalidation is pessimistic and coarse:
// deleting a superset of possibly-stale keys is always preferred over
// risking a stale read, and a cached blob is never patched in place; the
// next read repopulates from the stores of record. A failed delete is
// logged by the KeyStore and not retried; the entry then lives until its
// TTL, which is an accepted staleness bound.
type Invalidator struct {
	store *KeyStore
}

func NewInvalidator(store *KeyStore) *Invalidator {
	return &Invalidator{store: store}
}

// UserScope purges everything derivable from a user id: the permission
// allow-list, the menu tree and the authored-notes listing. Every user-row
// mutation funnels through here, including ones (password changes) where
// only a subset could be stale.
func (inv *Invalidator) UserScope(ctx context.Context, userID int64) {
	inv.store.Delete(ctx, UserPermissionsKey(userID))
	inv.store.Delete(ctx, UserMenusKey(userID))
	inv.store.Delete(ctx, UserNotesKey(userID))
}

// Permissions purges only the permission artifacts for a user. Used when a
// role's grants change and every holder of the role must re-resolve.
func (inv *Invalidator) Permissions(ctx context.Context, userID int64) {
	inv.store.Delete(ctx, UserPermissionsKey(userID))
	inv.store.Delete(ctx, UserMenusKey(userID))
}

// KnowledgeBaseNotes purges the paginated note listings of one knowledge
// base. The page count is unbounded so only pages 1..MaxCachedPages are
// deleted; later pages serve stale data until natural TTL expiry. Known
// limitation, not a bug.
func (inv *Invalidator) KnowledgeBaseNotes(ctx context.Context, kbID int64) {
	for page := 1; page <= MaxCachedPages; page++ {
		inv.store.Delete(ctx, KnowledgeBaseNotesKey(kbID, page))
	}
}

// KnowledgeBaseList purges the owner's knowledge-base listing.
func (inv *Invalidator) KnowledgeBaseList(ctx context.Context, ownerID int64) {
	inv.store.Delete(ctx, KnowledgeBasesKey(ownerID))
}

// KnowledgeBaseScope purges every entry touched by a knowledge-base
// create/update/delete: the owner's KB list, the KB's note pages and the
// owner's authored-notes listing.
func (inv *Invalidator) KnowledgeBaseScope(ctx context.Context, ownerID, kbID int64) {
	inv.KnowledgeBaseList(ctx, ownerID)
	inv.KnowledgeBaseNotes(ctx, kbID)
	inv.store.Delete(ctx, UserNotesKey(ownerID))
}

// Note purges every entry touched by a note create/update/delete.
func (inv *Invalidator) Note(ctx context.Context, noteID, authorID, kbID int64) {
	inv.store.Delete(ctx, NoteDetailKey(noteID))
	inv.store.Delete(ctx, UserNotesKey(authorID))
	inv.KnowledgeBaseNotes(ctx, kbID)
}

// NoteBody purges only the note detail entry. List caches never embed body
// text, so a body-only update leaves them alone.
func (inv *Invalidator) NoteBody(ctx context.Context, noteID int64) {
	inv.store.Delete(ctx, NoteDetailKey(noteID))
}

// EmailCode removes a consumed or superseded verification code.
func (inv *Invalidator) EmailCode(ctx context.Context, email string) {
	inv.store.Delete(ctx, EmailCodeKey(email))
}
