package folders

import (
	"strings"
	"time"
)

type SpecialUse string

const (
	SpecialNone    SpecialUse = ""
	SpecialInbox   SpecialUse = "inbox"
	SpecialSent    SpecialUse = "sent"
	SpecialDrafts  SpecialUse = "drafts"
	SpecialTrash   SpecialUse = "trash"
	SpecialSpam    SpecialUse = "spam"
	SpecialArchive SpecialUse = "archive"
)

func (s SpecialUse) String() string {
	return string(s)
}

var distinguishedSpecialUse = map[string]SpecialUse{
	"inbox":        SpecialInbox,
	"sentitems":    SpecialSent,
	"drafts":       SpecialDrafts,
	"deleteditems": SpecialTrash,
	"junkemail":    SpecialSpam,
	"archive":      SpecialArchive,
}

// SpecialUseFor maps an Exchange distinguished folder id to its role.
func SpecialUseFor(distinguishedID string) SpecialUse {
	return distinguishedSpecialUse[strings.ToLower(distinguishedID)]
}

// IsMailFolderClass reports whether a folder class holds mail. Folders
// without a class are treated as mail folders.
func IsMailFolderClass(class string) bool {
	return class == "" || class == "IPF.Note" || strings.HasPrefix(class, "IPF.Note.")
}

// FolderEntry is one folder as reported by a listing or a notification.
type FolderEntry struct {
	ID              string
	ParentID        string
	Name            string
	FolderClass     string
	DistinguishedID string
	Total           int
	Unread          int
}

// Folder is a node of the Tree. Its identity is stable across refreshes
// so callers may hold on to it; read its fields through Tree accessors.
type Folder struct {
	ID         string
	ParentID   string
	Name       string
	SpecialUse SpecialUse
	Total      int
	Unread     int
	SyncState  string
	LastSync   time.Time

	children []*Folder
	messages *messageSet
}

// FolderInfo is a copy of a Folder safe to hand out.
type FolderInfo struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Depth      int        `json:"depth"`
	SpecialUse SpecialUse `json:"specialUse,omitempty"`
	Total      int        `json:"total"`
	Unread     int        `json:"unread"`
	Messages   int        `json:"messages"`
	LastSync   time.Time  `json:"lastSync,omitempty"`
}

type Message struct {
	LocalID   string    `json:"id"`
	ItemID    string    `json:"itemId"`
	ChangeKey string    `json:"changeKey,omitempty"`
	FolderID  string    `json:"folderId"`
	Subject   string    `json:"subject"`
	From      string    `json:"from,omitempty"`
	Received  time.Time `json:"received"`
	Size      int       `json:"size"`
	IsRead    bool      `json:"isRead"`
}

type messageSet struct {
	byItem map[string]*Message
	order  []string
}

func newMessageSet() *messageSet {
	return &messageSet{byItem: make(map[string]*Message)}
}

func (s *messageSet) remove(itemID string) bool {
	if _, ok := s.byItem[itemID]; !ok {
		return false
	}
	delete(s.byItem, itemID)
	for i, id := range s.order {
		if id == itemID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
