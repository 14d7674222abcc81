package exchange

import (
	"time"

	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

// folderEntry reads one folder as returned by FindFolder. EWS and OWA
// share the property names.
func folderEntry(v any) folders.FolderEntry {
	return folders.FolderEntry{
		ID:              transcode.GetString(v, "FolderId", "Id"),
		ParentID:        transcode.GetString(v, "ParentFolderId", "Id"),
		Name:            transcode.GetString(v, "DisplayName"),
		FolderClass:     transcode.GetString(v, "FolderClass"),
		DistinguishedID: transcode.GetString(v, "DistinguishedFolderId"),
		Total:           transcode.Int(transcode.Get(v, "TotalCount")),
		Unread:          transcode.Int(transcode.Get(v, "UnreadCount")),
	}
}

func folderEntries(list any) []folders.FolderEntry {
	var entries []folders.FolderEntry
	for _, v := range transcode.EnsureArray(list) {
		entry := folderEntry(v)
		if entry.ID == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// message reads the item properties requested by SyncFolderItems or FindItem.
func message(v any, folderID string) folders.Message {
	from := transcode.Get(v, "From", "Mailbox")
	sender := transcode.GetString(from, "EmailAddress")
	if name := transcode.GetString(from, "Name"); name != "" && name != sender {
		if sender == "" {
			sender = name
		} else {
			sender = name + " <" + sender + ">"
		}
	}
	m := folders.Message{
		ItemID:    transcode.GetString(v, "ItemId", "Id"),
		ChangeKey: transcode.GetString(v, "ItemId", "ChangeKey"),
		FolderID:  folderID,
		Subject:   transcode.GetString(v, "Subject"),
		From:      sender,
		Size:      transcode.Int(transcode.Get(v, "Size")),
		IsRead:    transcode.Bool(transcode.Get(v, "IsRead")),
	}
	if received := transcode.GetString(v, "DateTimeReceived"); received != "" {
		if t, err := time.Parse(time.RFC3339, received); err == nil {
			m.Received = t
		}
	}
	return m
}

// firstItem returns the single item of a sync change, whatever its item type.
func firstItem(change any) any {
	m, ok := change.(map[string]any)
	if !ok {
		return nil
	}
	for _, v := range m {
		if _, ok := v.(map[string]any); ok {
			return v
		}
	}
	return nil
}

// ewsNotification converts one EWS Notification element into the events
// it holds, in the order the kinds are processed.
func ewsNotification(v any) folders.Notification {
	var n folders.Notification
	for _, kind := range folders.EventKinds {
		for _, ev := range transcode.EnsureArray(transcode.Get(v, kind.String())) {
			n.Events = append(n.Events, folders.Event{
				Kind:              kind,
				ItemID:            transcode.GetString(ev, "ItemId", "Id"),
				FolderID:          transcode.GetString(ev, "FolderId", "Id"),
				ParentFolderID:    transcode.GetString(ev, "ParentFolderId", "Id"),
				OldParentFolderID: transcode.GetString(ev, "OldParentFolderId", "Id"),
			})
		}
	}
	return n
}
