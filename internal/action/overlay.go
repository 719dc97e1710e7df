package action

import "github.com/plenumhq/plenum/internal/keys"

// Overlay is the in-flight view of a batch: instances created or deleted
// by earlier actions of the same request, keyed by fqid. The relation
// resolver consults it before the datastore so nested and dependent
// actions can reference uncommitted instances.
type Overlay struct {
	entries map[keys.FQID]overlayEntry
}

type overlayEntry struct {
	fields  map[string]any
	deleted bool
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{entries: make(map[keys.FQID]overlayEntry)}
}

// Set records an uncommitted instance.
func (o *Overlay) Set(fqid keys.FQID, fields map[string]any) {
	o.entries[fqid] = overlayEntry{fields: fields}
}

// MarkDeleted records an uncommitted delete.
func (o *Overlay) MarkDeleted(fqid keys.FQID) {
	o.entries[fqid] = overlayEntry{deleted: true}
}

// Instance returns the overlaid fields. The second return is false when
// the overlay has no entry or the instance is marked deleted.
func (o *Overlay) Instance(fqid keys.FQID) (map[string]any, bool) {
	entry, ok := o.entries[fqid]
	if !ok || entry.deleted {
		return nil, false
	}
	return entry.fields, true
}

// Stored returns the overlaid fields even when the instance is marked
// deleted. A cascaded delete reads its own instance this way: the parent
// tombstones it for the benefit of sibling protect checks before the
// nested action runs.
func (o *Overlay) Stored(fqid keys.FQID) (map[string]any, bool) {
	entry, ok := o.entries[fqid]
	if !ok || entry.fields == nil {
		return nil, false
	}
	return entry.fields, true
}

// IsDeleted reports whether the instance is marked deleted in-flight.
func (o *Overlay) IsDeleted(fqid keys.FQID) bool {
	return o.entries[fqid].deleted
}

// Has reports whether the overlay carries any entry for the fqid.
func (o *Overlay) Has(fqid keys.FQID) bool {
	_, ok := o.entries[fqid]
	return ok
}

// Clone returns an independent copy. Delete cascades work on a clone so
// tombstones of nested deletes stay invisible to the outer action's own
// relation pass.
func (o *Overlay) Clone() *Overlay {
	copied := NewOverlay()
	for fqid, entry := range o.entries {
		copied.entries[fqid] = entry
	}
	return copied
}
