package folders

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrFolderNotFound = errors.New("folder not found")

// ListingResult counts what ApplyFolderListing did.
type ListingResult struct {
	Created int
	Updated int
	Moved   int
	Skipped int
}

// Tree is the folder hierarchy of one account plus the messages known in
// each folder. Folders are indexed by server id; a folder keeps its
// *Folder across listings. All methods are safe for concurrent use.
type Tree struct {
	mu      sync.RWMutex
	rootID  string
	index   map[string]*Folder
	roots   []*Folder
	special map[SpecialUse]*Folder
	newID   func() string
}

// NewTree returns an empty tree. newID generates local message ids.
func NewTree(newID func() string) *Tree {
	return &Tree{
		index:   make(map[string]*Folder),
		special: make(map[SpecialUse]*Folder),
		newID:   newID,
	}
}

// SetRootID records the server id of the message folder root. Entries
// whose parent is the root become top-level folders.
func (t *Tree) SetRootID(id string) {
	t.mu.Lock()
	t.rootID = id
	t.mu.Unlock()
}

func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// ApplyFolderListing merges a full hierarchy listing into the tree.
// Entries that are not mail folders are skipped. Known folders are updated
// in place and re-parented when their parent changed; unknown ones are
// created. Entries may arrive before their parent; a parent that is not
// part of the listing and not known places the folder at the top level.
func (t *Tree) ApplyFolderListing(entries []FolderEntry) ListingResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result ListingResult
	listed := make(map[string]bool, len(entries))
	pending := make([]FolderEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || !IsMailFolderClass(e.FolderClass) {
			result.Skipped++
			continue
		}
		listed[e.ID] = true
		pending = append(pending, e)
	}

	for len(pending) > 0 {
		var deferred []FolderEntry
		for _, e := range pending {
			if t.isRootLocked(e.ParentID) || t.index[e.ParentID] != nil || !listed[e.ParentID] {
				t.applyEntryLocked(e, &result)
				continue
			}
			deferred = append(deferred, e)
		}
		if len(deferred) == len(pending) {
			// Parents reference each other; nothing can be placed below a known node.
			for _, e := range deferred {
				e.ParentID = ""
				t.applyEntryLocked(e, &result)
			}
			break
		}
		pending = deferred
	}
	return result
}

// UpsertFolder applies a single entry from a hierarchy notification. It
// reports false when the entry is not a mail folder or its parent is unknown.
func (t *Tree) UpsertFolder(e FolderEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.ID == "" || !IsMailFolderClass(e.FolderClass) {
		return false
	}
	if !t.isRootLocked(e.ParentID) && t.index[e.ParentID] == nil {
		return false
	}
	var result ListingResult
	t.applyEntryLocked(e, &result)
	return true
}

func (t *Tree) isRootLocked(parentID string) bool {
	return parentID == "" || parentID == t.rootID
}

func (t *Tree) applyEntryLocked(e FolderEntry, result *ListingResult) {
	parent := t.index[e.ParentID]
	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}

	f, ok := t.index[e.ID]
	if !ok {
		f = &Folder{ID: e.ID, messages: newMessageSet()}
		t.index[e.ID] = f
		t.attachLocked(f, parent)
		f.ParentID = parentID
		result.Created++
	} else {
		if f.ParentID != parentID && !t.isDescendantLocked(parent, f) {
			t.detachLocked(f)
			t.attachLocked(f, parent)
			f.ParentID = parentID
			result.Moved++
		}
		result.Updated++
	}

	f.Name = e.Name
	f.Total = e.Total
	f.Unread = e.Unread
	if use := SpecialUseFor(e.DistinguishedID); use != SpecialNone {
		t.assignSpecialLocked(f, use)
	}
}

// assignSpecialLocked makes f the only holder of use.
func (t *Tree) assignSpecialLocked(f *Folder, use SpecialUse) {
	if f.SpecialUse != SpecialNone && f.SpecialUse != use && t.special[f.SpecialUse] == f {
		delete(t.special, f.SpecialUse)
	}
	if previous := t.special[use]; previous != nil && previous != f {
		previous.SpecialUse = SpecialNone
	}
	f.SpecialUse = use
	t.special[use] = f
}

// isDescendantLocked reports whether node is f or lies below f.
func (t *Tree) isDescendantLocked(node, f *Folder) bool {
	for node != nil {
		if node == f {
			return true
		}
		node = t.index[node.ParentID]
	}
	return false
}

func (t *Tree) attachLocked(f, parent *Folder) {
	if parent == nil {
		t.roots = append(t.roots, f)
		return
	}
	parent.children = append(parent.children, f)
}

func (t *Tree) detachLocked(f *Folder) {
	siblings := &t.roots
	if parent := t.index[f.ParentID]; parent != nil {
		siblings = &parent.children
	}
	for i, c := range *siblings {
		if c == f {
			*siblings = append((*siblings)[:i], (*siblings)[i+1:]...)
			return
		}
	}
}

// Lookup returns the node for id. The pointer is stable across listings.
func (t *Tree) Lookup(id string) *Folder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index[id]
}

func (t *Tree) Has(id string) bool {
	return t.Lookup(id) != nil
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

func (t *Tree) Folder(id string) (FolderInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.index[id]
	if !ok {
		return FolderInfo{}, false
	}
	return t.infoLocked(f, t.pathLocked(f), t.depthLocked(f)), true
}

// Special returns the folder holding a special role, if any.
func (t *Tree) Special(use SpecialUse) (FolderInfo, bool) {
	t.mu.RLock()
	f, ok := t.special[use]
	t.mu.RUnlock()
	if !ok {
		return FolderInfo{}, false
	}
	return t.Folder(f.ID)
}

// Snapshot lists every folder depth-first, siblings ordered by name.
func (t *Tree) Snapshot() []FolderInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]FolderInfo, 0, len(t.index))
	var walk func(nodes []*Folder, prefix string, depth int)
	walk = func(nodes []*Folder, prefix string, depth int) {
		sorted := make([]*Folder, len(nodes))
		copy(sorted, nodes)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		for _, f := range sorted {
			path := f.Name
			if prefix != "" {
				path = prefix + "/" + f.Name
			}
			out = append(out, t.infoLocked(f, path, depth))
			walk(f.children, path, depth+1)
		}
	}
	walk(t.roots, "", 0)
	return out
}

// FolderIDs returns the ids of every folder in no particular order.
func (t *Tree) FolderIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.index))
	for id := range t.index {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tree) infoLocked(f *Folder, path string, depth int) FolderInfo {
	return FolderInfo{
		ID:         f.ID,
		ParentID:   f.ParentID,
		Name:       f.Name,
		Path:       path,
		Depth:      depth,
		SpecialUse: f.SpecialUse,
		Total:      f.Total,
		Unread:     f.Unread,
		Messages:   len(f.messages.order),
		LastSync:   f.LastSync,
	}
}

func (t *Tree) pathLocked(f *Folder) string {
	path := f.Name
	for p := t.index[f.ParentID]; p != nil; p = t.index[p.ParentID] {
		path = p.Name + "/" + path
	}
	return path
}

func (t *Tree) depthLocked(f *Folder) int {
	depth := 0
	for p := t.index[f.ParentID]; p != nil; p = t.index[p.ParentID] {
		depth++
	}
	return depth
}

// UpsertMessage stores m in its folder, keeping the local id of a message
// already known by item id. It reports whether the message was new.
func (t *Tree) UpsertMessage(m Message) (Message, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.index[m.FolderID]
	if !ok {
		return Message{}, false, errors.Wrapf(ErrFolderNotFound, "folder %s", m.FolderID)
	}
	if existing, ok := f.messages.byItem[m.ItemID]; ok {
		m.LocalID = existing.LocalID
		*existing = m
		return m, false, nil
	}
	if m.LocalID == "" && t.newID != nil {
		m.LocalID = t.newID()
	}
	stored := m
	f.messages.byItem[m.ItemID] = &stored
	f.messages.order = append(f.messages.order, m.ItemID)
	return m, true, nil
}

func (t *Tree) RemoveMessage(folderID, itemID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.index[folderID]
	if !ok {
		return false
	}
	return f.messages.remove(itemID)
}

func (t *Tree) SetRead(folderID, itemID string, read bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.index[folderID]
	if !ok {
		return false
	}
	m, ok := f.messages.byItem[itemID]
	if !ok {
		return false
	}
	m.IsRead = read
	return true
}

func (t *Tree) Message(folderID, itemID string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.index[folderID]
	if !ok {
		return Message{}, false
	}
	m, ok := f.messages.byItem[itemID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Messages returns the messages of a folder in the order they were first seen.
func (t *Tree) Messages(folderID string) ([]Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.index[folderID]
	if !ok {
		return nil, errors.Wrapf(ErrFolderNotFound, "folder %s", folderID)
	}
	out := make([]Message, 0, len(f.messages.order))
	for _, id := range f.messages.order {
		out = append(out, *f.messages.byItem[id])
	}
	return out, nil
}

func (t *Tree) ItemIDs(folderID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.index[folderID]
	if !ok {
		return nil
	}
	ids := make([]string, len(f.messages.order))
	copy(ids, f.messages.order)
	return ids
}

func (t *Tree) SyncState(folderID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if f, ok := t.index[folderID]; ok {
		return f.SyncState
	}
	return ""
}

// MarkSynced records the sync state reached for a folder.
func (t *Tree) MarkSynced(folderID, syncState string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.index[folderID]
	if !ok {
		return errors.Wrapf(ErrFolderNotFound, "folder %s", folderID)
	}
	f.SyncState = syncState
	f.LastSync = at
	return nil
}
