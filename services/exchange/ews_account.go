package exchange

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/stream"
	"github.com/customeros/exchangestack/internal/exchange/transcode"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/tracing"
)

// Response codes of a subscription the server no longer knows.
var expiredSubscriptionCodes = []string{
	"ErrorSubscriptionNotFound",
	"ErrorInvalidSubscription",
	"ErrorExpiredSubscription",
	"ErrorSubscriptionAccessDenied",
}

const errorInvalidSyncState = "ErrorInvalidSyncStateData"

// ewsAccount talks SOAP to /EWS/Exchange.asmx and follows a streaming
// subscription for changes.
type ewsAccount struct {
	*account
	streamTimeout int
}

func newEWSAccount(opts accountOptions) *ewsAccount {
	a := &ewsAccount{
		account:       newAccount(opts, enum.ProtocolEWS),
		streamTimeout: opts.StreamTimeout,
	}
	a.bind(a)
	return a
}

func (a *ewsAccount) RefreshFolders(ctx context.Context) error {
	span, ctx := a.startSpan(ctx, "EWSAccount.RefreshFolders")
	defer span.Finish()

	err := a.refreshFolders(ctx, func(ctx context.Context) (string, []folders.FolderEntry, error) {
		rootID := a.tree.RootID()
		if rootID == "" {
			resp, err := a.client.Call(ctx, request.EWSGetFolder(request.DistinguishedMsgFolderRoot))
			if err != nil {
				return "", nil, errors.Wrap(err, "looking up folder root")
			}
			rootID = transcode.GetString(resp, "Folders", "Folder", "FolderId", "Id")
		}
		resp, err := a.client.Call(ctx, request.EWSFindFolder(request.DistinguishedMsgFolderRoot))
		if err != nil {
			return "", nil, errors.Wrap(err, "listing folders")
		}
		return rootID, folderEntries(transcode.Get(resp, "RootFolder", "Folders", "Folder")), nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// UpdateFolder pulls the item changes of folderID since its last sync
// state until the server reports the last change in range.
func (a *ewsAccount) UpdateFolder(ctx context.Context, folderID string) error {
	span, ctx := a.startSpan(ctx, "EWSAccount.UpdateFolder")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	err := a.coalesce("folder:"+folderID, func() error {
		initial := !a.isLoaded(folderID)
		state := a.tree.SyncState(folderID)
		for {
			resp, err := a.client.Call(ctx, request.EWSSyncFolderItems(folderID, state))
			if err != nil {
				if state != "" && transport.IsFaultCode(err, errorInvalidSyncState) {
					a.log.Warnf("[%s][%s] sync state rejected, starting over", a.id, folderID)
					state = ""
					continue
				}
				return errors.Wrapf(err, "syncing folder %s", folderID)
			}
			a.applyChanges(ctx, folderID, transcode.Get(resp, "Changes"), initial)
			state = transcode.GetString(resp, "SyncState")
			if state == "" || transcode.Bool(transcode.Get(resp, "IncludesLastItemInRange")) {
				break
			}
		}
		return a.finishFolderSync(ctx, folderID, state)
	})
	folderSyncsTotal.WithLabelValues(a.protocol.String(), syncResult(err)).Inc()
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (a *ewsAccount) applyChanges(ctx context.Context, folderID string, changes any, initial bool) {
	for _, kind := range []string{"Create", "Update"} {
		for _, change := range transcode.EnsureArray(transcode.Get(changes, kind)) {
			m := message(firstItem(change), folderID)
			if m.ItemID == "" {
				continue
			}
			if err := a.storeMessage(ctx, m, initial); err != nil {
				a.reportError(err)
			}
		}
	}
	for _, change := range transcode.EnsureArray(transcode.Get(changes, "ReadFlagChange")) {
		itemID := transcode.GetString(change, "ItemId", "Id")
		a.setRead(ctx, folderID, itemID, transcode.Bool(transcode.Get(change, "IsRead")), initial)
	}
	for _, change := range transcode.EnsureArray(transcode.Get(changes, "Delete")) {
		a.removeMessage(ctx, folderID, transcode.GetString(change, "ItemId", "Id"), initial)
	}
}

func (a *ewsAccount) Send(ctx context.Context, email *request.EMail) error {
	span, ctx := a.startSpan(ctx, "EWSAccount.Send")
	defer span.Finish()

	if _, err := a.client.Call(ctx, request.NewEWSSendMessage(email)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (a *ewsAccount) DeleteMessages(ctx context.Context, folderID string, itemIDs ...string) error {
	span, ctx := a.startSpan(ctx, "EWSAccount.DeleteMessages")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	if len(itemIDs) == 0 {
		return nil
	}
	if _, err := a.client.Call(ctx, request.EWSDeleteItem(itemIDs...)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, id := range itemIDs {
		a.removeMessage(ctx, folderID, id, false)
	}
	return nil
}

func (a *ewsAccount) MarkRead(ctx context.Context, folderID, itemID string, read bool) error {
	span, ctx := a.startSpan(ctx, "EWSAccount.MarkRead")
	defer span.Finish()
	span.SetTag(tracing.SpanTagFolderId, folderID)

	m, ok := a.tree.Message(folderID, itemID)
	if !ok {
		return errors.Wrapf(ErrMessageNotFound, "item %s", itemID)
	}
	req := request.NewEWSUpdateItem(itemID, m.ChangeKey, transcode.New(
		"ConflictResolution", "AutoResolve",
		"MessageDisposition", "SaveOnly",
	))
	req.AddField("Message", "IsRead", read, "message:IsRead")
	resp, err := a.client.Call(ctx, req)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	m.IsRead = read
	if changeKey := transcode.GetString(resp, "Items", "Message", "ItemId", "ChangeKey"); changeKey != "" {
		m.ChangeKey = changeKey
	}
	return a.storeMessage(ctx, m, false)
}

func (a *ewsAccount) Listen(ctx context.Context) error {
	return a.listen(ctx, a)
}

// Subscribe creates a streaming subscription on all folders.
func (a *ewsAccount) Subscribe(ctx context.Context) (string, error) {
	resp, err := a.client.Call(ctx, request.EWSSubscribe())
	if err != nil {
		return "", err
	}
	id := transcode.GetString(resp, "SubscriptionId")
	if id == "" {
		return "", errors.New("subscribe response carries no subscription id")
	}
	return id, nil
}

func (a *ewsAccount) Open(ctx context.Context, subscriptionID string) (io.ReadCloser, error) {
	body, err := a.client.Stream(ctx, request.EWSGetStreamingEvents(subscriptionID, a.streamTimeout))
	if err != nil && transport.IsFaultCode(err, expiredSubscriptionCodes...) {
		return nil, errors.Wrap(stream.ErrResubscribe, err.Error())
	}
	return body, err
}

func (a *ewsAccount) Split(data []byte) (int, []byte, bool) {
	return stream.SplitEnvelopes(data)
}

// Handle processes one GetStreamingEvents envelope. Each Notification it
// carries is applied as one batch.
func (a *ewsAccount) Handle(ctx context.Context, unit []byte) error {
	if !bytes.Contains(unit, []byte("ResponseMessages")) {
		return nil
	}
	resp, err := transport.DecodeResponseMessage("GetStreamingEvents", unit)
	if err != nil {
		if transport.IsFaultCode(err, expiredSubscriptionCodes...) {
			return errors.Wrap(stream.ErrResubscribe, err.Error())
		}
		return err
	}
	for _, n := range transcode.EnsureArray(transcode.Get(resp, "Notifications", "Notification")) {
		a.engine.ApplyEvent(ctx, ewsNotification(n))
	}
	if transcode.GetString(resp, "ConnectionStatus") == "Closed" {
		return stream.ErrConnectionClosed
	}
	return nil
}
