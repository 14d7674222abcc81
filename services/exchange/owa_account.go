package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/stream"
	"github.com/customeros/exchangestack/internal/exchange/transcode"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/tracing"
)

// owaAccount talks JSON to the Outlook Web App service and follows its
// pending notification channel.
type owaAccount struct {
	*account
	pacing  time.Duration
	cookies transport.CookieSource
}

func newOWAAccount(opts accountOptions, cookies transport.CookieSource) *owaAccount {
	a := &owaAccount{
		account: newAccount(opts, enum.ProtocolOWA),
		pacing:  opts.Pacing,
		cookies: cookies,
	}
	a.bind(a)
	return a
}

// RefreshFolders lists the hierarchy below msgfolderroot. The root itself
// comes back as the parent folder of the listing.
func (a *owaAccount) RefreshFolders(ctx context.Context) error {
	span, ctx := a.startSpan(ctx, "OWAAccount.RefreshFolders")
	defer span.Finish()

	err := a.refreshFolders(ctx, func(ctx context.Context) (string, []folders.FolderEntry, error) {
		resp, err := a.client.Call(ctx, request.OWAFindFolder(request.DistinguishedMsgFolderRoot))
		if err != nil {
			return "", nil, errors.Wrap(err, "listing folders")
		}
		rootID := transcode.GetString(resp, "RootFolder", "ParentFolder", "FolderId", "Id")
		return rootID, folderEntries(transcode.Get(resp, "RootFolder", "Folders")), nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// UpdateFolder pages through the items of folderID and reconciles them with
// the known messages: new and changed items are stored, missing ones removed.
func (a *owaAccount) UpdateFolder(ctx context.Context, folderID string) error {
	span, ctx := a.startSpan(ctx, "OWAAccount.UpdateFolder")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	err := a.coalesce("folder:"+folderID, func() error {
		initial := !a.isLoaded(folderID)
		known, err := a.tree.Messages(folderID)
		if err != nil {
			return err
		}
		existing := make(map[string]folders.Message, len(known))
		for _, m := range known {
			existing[m.ItemID] = m
		}

		seen := make(map[string]bool)
		for offset := 0; ; {
			resp, err := a.client.Call(ctx, request.OWAFindItem(folderID, offset))
			if err != nil {
				return errors.Wrapf(err, "listing items of folder %s", folderID)
			}
			items := transcode.EnsureArray(transcode.Get(resp, "RootFolder", "Items"))
			for _, item := range items {
				m := message(item, folderID)
				if m.ItemID == "" {
					continue
				}
				seen[m.ItemID] = true
				old, ok := existing[m.ItemID]
				if ok && old.ChangeKey == m.ChangeKey && old.IsRead == m.IsRead {
					continue
				}
				if err := a.storeMessage(ctx, m, initial); err != nil {
					return err
				}
			}
			offset += len(items)
			if len(items) == 0 || transcode.Bool(transcode.Get(resp, "RootFolder", "IncludesLastItemInRange")) {
				break
			}
		}

		for _, m := range known {
			if !seen[m.ItemID] {
				a.removeMessage(ctx, folderID, m.ItemID, initial)
			}
		}
		return a.finishFolderSync(ctx, folderID, "")
	})
	folderSyncsTotal.WithLabelValues(a.protocol.String(), syncResult(err)).Inc()
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// Logout also ends the web session.
func (a *owaAccount) Logout(ctx context.Context) error {
	err := a.account.Logout(ctx)
	if a.cookies != nil {
		a.cookies.ClearCookies()
	}
	return err
}

func (a *owaAccount) Send(ctx context.Context, email *request.EMail) error {
	span, ctx := a.startSpan(ctx, "OWAAccount.Send")
	defer span.Finish()

	if _, err := a.client.Call(ctx, request.NewOWASendMessage(email)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (a *owaAccount) DeleteMessages(ctx context.Context, folderID string, itemIDs ...string) error {
	span, ctx := a.startSpan(ctx, "OWAAccount.DeleteMessages")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := a.client.Call(ctx, request.OWADeleteItem(itemIDs...)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, id := range itemIDs {
		a.removeMessage(ctx, folderID, id, false)
	}
	return nil
}

func (a *owaAccount) MarkRead(ctx context.Context, folderID, itemID string, read bool) error {
	span, ctx := a.startSpan(ctx, "OWAAccount.MarkRead")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	m, ok := a.tree.Message(folderID, itemID)
	if !ok {
		return errors.Wrapf(ErrMessageNotFound, "item %s", itemID)
	}
	req := request.NewOWAUpdateItem(itemID, m.ChangeKey, transcode.New("MessageDisposition", "SaveOnly"))
	req.AddField("Message", "IsRead", read, "message:IsRead")
	resp, err := a.client.Call(ctx, req)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	m.IsRead = read
	for _, item := range transcode.EnsureArray(transcode.Get(resp, "Items")) {
		if changeKey := transcode.GetString(item, "ItemId", "ChangeKey"); changeKey != "" {
			m.ChangeKey = changeKey
		}
	}
	return a.storeMessage(ctx, m, false)
}

func (a *owaAccount) Listen(ctx context.Context) error {
	return a.listen(ctx, a)
}

// Subscribe obtains a notification channel id and subscribes it to
// hierarchy and new mail notifications.
func (a *owaAccount) Subscribe(ctx context.Context) (string, error) {
	resp, err := a.client.Call(ctx, request.OWAFinishNotificationRequest())
	if err != nil {
		return "", err
	}
	cid := transcode.GetString(resp, "cid")
	if cid == "" {
		return "", errors.New("notification request carries no channel id")
	}
	if _, err := a.client.Call(ctx, request.OWASubscribeToNotification()); err != nil {
		return "", err
	}
	return cid, nil
}

func (a *owaAccount) Open(ctx context.Context, cid string) (io.ReadCloser, error) {
	return a.client.Stream(ctx, request.OWAPendingNotification(cid))
}

func (a *owaAccount) Split(data []byte) (int, []byte, bool) {
	return stream.SplitScripts(data)
}

// Handle processes the content of one <script> block. Only JSON arrays
// carry notifications; anything else is channel housekeeping.
func (a *owaAccount) Handle(ctx context.Context, unit []byte) error {
	script := bytes.TrimSpace(unit)
	if !bytes.HasPrefix(script, []byte("[")) {
		return nil
	}
	if a.pacing > 0 {
		// Let our own changes settle before fetching.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.pacing):
		}
	}

	var notifications []map[string]any
	if err := json.Unmarshal(script, &notifications); err != nil {
		return errors.Wrap(err, "decoding OWA notifications")
	}

	var events []folders.Event
	for _, n := range notifications {
		switch transcode.GetString(n, "id") {
		case request.OWAHierarchyNotification:
			a.applyHierarchyNotification(ctx, n)
		case request.OWANewMailNotification:
			inbox, ok := a.tree.Special(folders.SpecialInbox)
			if !ok {
				continue
			}
			itemID := transcode.GetString(n, "ItemId")
			if itemID != "" && a.isLoaded(inbox.ID) {
				err := a.fetchNewMail(ctx, inbox.ID, itemID)
				if err == nil {
					continue
				}
				a.reportError(err)
			}
			events = append(events, folders.Event{
				Kind:           folders.NewMailEvent,
				ItemID:         itemID,
				ParentFolderID: inbox.ID,
			})
		}
	}
	if len(events) > 0 {
		a.engine.ApplyEvent(ctx, folders.Notification{Events: events})
	}
	return nil
}

// fetchNewMail stores one newly arrived message without paging through
// the whole folder.
func (a *owaAccount) fetchNewMail(ctx context.Context, folderID, itemID string) error {
	resp, err := a.client.Call(ctx, request.OWAGetItem(itemID))
	if err != nil {
		return errors.Wrapf(err, "fetching new mail %s", itemID)
	}
	items := transcode.EnsureArray(transcode.Get(resp, "Items"))
	if len(items) == 0 {
		return errors.Errorf("new mail %s missing from GetItem response", itemID)
	}
	m := message(items[0], folderID)
	if m.ItemID == "" {
		m.ItemID = itemID
	}
	return a.storeMessage(ctx, m, false)
}

// applyHierarchyNotification updates or adds the folder a hierarchy
// notification describes. Folders below parents we do not track are ignored.
func (a *owaAccount) applyHierarchyNotification(ctx context.Context, n map[string]any) {
	entry := folders.FolderEntry{
		ID:       transcode.GetString(n, "folderId"),
		ParentID: transcode.GetString(n, "parentFolderId"),
		Name:     transcode.GetString(n, "displayName"),
		Total:    transcode.Int(n["itemCount"]),
		Unread:   transcode.Int(n["unreadCount"]),
	}
	existed := a.tree.Has(entry.ID)
	if !a.tree.UpsertFolder(entry) {
		a.log.Debugf("[%s] hierarchy notification for folder %s below unknown parent ignored", a.id, entry.ID)
		return
	}
	if !existed {
		a.emit(ctx, enum.MailEventFolders, entry.ID, nil, false)
	}
}
