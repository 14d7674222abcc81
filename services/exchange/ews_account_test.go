package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/stream"
)

const ewsGetFolderRoot = `<m:GetFolderResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:Folders><t:Folder><t:FolderId Id="ROOT" ChangeKey="r"/></t:Folder></m:Folders>
</m:GetFolderResponseMessage>`

const ewsFindFolders = `<m:FindFolderResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:RootFolder TotalItemsInView="3" IncludesLastItemInRange="true">
<t:Folders>
<t:Folder>
<t:FolderId Id="INBOX" ChangeKey="a"/>
<t:ParentFolderId Id="ROOT" ChangeKey="r"/>
<t:FolderClass>IPF.Note</t:FolderClass>
<t:DisplayName>Inbox</t:DisplayName>
<t:TotalCount>2</t:TotalCount>
<t:UnreadCount>1</t:UnreadCount>
<t:DistinguishedFolderId>inbox</t:DistinguishedFolderId>
</t:Folder>
<t:Folder>
<t:FolderId Id="SENT" ChangeKey="b"/>
<t:ParentFolderId Id="ROOT" ChangeKey="r"/>
<t:FolderClass>IPF.Note</t:FolderClass>
<t:DisplayName>Sent Items</t:DisplayName>
<t:DistinguishedFolderId>sentitems</t:DistinguishedFolderId>
</t:Folder>
<t:Folder>
<t:FolderId Id="CAL" ChangeKey="c"/>
<t:ParentFolderId Id="ROOT" ChangeKey="r"/>
<t:FolderClass>IPF.Appointment</t:FolderClass>
<t:DisplayName>Calendar</t:DisplayName>
</t:Folder>
</t:Folders>
</m:RootFolder>
</m:FindFolderResponseMessage>`

func ewsSync(state string, last bool, changes string) []byte {
	includes := "false"
	if last {
		includes = "true"
	}
	return soapResponse(`<m:SyncFolderItemsResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:SyncState>` + state + `</m:SyncState>
<m:IncludesLastItemInRange>` + includes + `</m:IncludesLastItemInRange>
<m:Changes>` + changes + `</m:Changes>
</m:SyncFolderItemsResponseMessage>`)
}

func ewsCreate(id, changeKey, subject string, read bool) string {
	isRead := "false"
	if read {
		isRead = "true"
	}
	return `<t:Create><t:Message>
<t:ItemId Id="` + id + `" ChangeKey="` + changeKey + `"/>
<t:Subject>` + subject + `</t:Subject>
<t:DateTimeReceived>2024-03-01T10:00:00Z</t:DateTimeReceived>
<t:Size>1024</t:Size>
<t:IsRead>` + isRead + `</t:IsRead>
<t:From><t:Mailbox><t:Name>Ann</t:Name><t:EmailAddress>ann@example.com</t:EmailAddress></t:Mailbox></t:From>
</t:Message></t:Create>`
}

func loggedInEWS(t *testing.T, poster *routedPoster, events *eventRecorder) *ewsAccount {
	t.Helper()
	poster.on("GetFolder", soapResponse(ewsGetFolderRoot))
	poster.on("FindFolder", soapResponse(ewsFindFolders))
	a := newTestEWSAccount(t, poster, events)
	require.NoError(t, a.Login(context.Background(), false))
	return a
}

func TestEWSAccount_LoginListsMailFolders(t *testing.T) {
	poster := newRoutedPoster("ews")
	events := &eventRecorder{}
	a := loggedInEWS(t, poster, events)

	assert.True(t, a.IsLoggedIn())
	assert.Equal(t, "ROOT", a.tree.RootID())
	list, err := a.ListFolders(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	inbox, ok := a.tree.Special(folders.SpecialInbox)
	require.True(t, ok)
	assert.Equal(t, "INBOX", inbox.ID)
	assert.Equal(t, 1, inbox.Unread)
	assert.Len(t, events.ofType(enum.MailEventFolders), 1)
}

func TestEWSAccount_RefreshReusesKnownRoot(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	require.NoError(t, a.RefreshFolders(context.Background()))

	assert.Equal(t, 1, poster.count("GetFolder"))
	assert.Equal(t, 2, poster.count("FindFolder"))
}

func TestEWSAccount_UpdateFolderAppliesChanges(t *testing.T) {
	poster := newRoutedPoster("ews")
	events := &eventRecorder{}
	a := loggedInEWS(t, poster, events)
	events.reset()

	poster.on("SyncFolderItems",
		ewsSync("S1", false, ewsCreate("M1", "k1", "Hello", false)),
		ewsSync("S2", true, ewsCreate("M2", "k1", "World", true)),
	)
	require.NoError(t, a.UpdateFolder(context.Background(), "INBOX"))

	messages, err := a.ListMessages(context.Background(), "INBOX")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello", messages[0].Subject)
	assert.Equal(t, "Ann <ann@example.com>", messages[0].From)
	assert.Equal(t, 1024, messages[0].Size)
	assert.False(t, messages[0].IsRead)
	assert.True(t, messages[1].IsRead)
	assert.Equal(t, "S2", a.tree.SyncState("INBOX"))
	assert.Contains(t, poster.lastBody("SyncFolderItems"), "S1")

	created := events.ofType(enum.MailEventNew)
	require.Len(t, created, 2)
	assert.True(t, created[0].InitialSync)
	assert.Equal(t, "M1", created[0].ItemID)

	events.reset()
	poster.on("SyncFolderItems", ewsSync("S3", true, joinLines(
		`<t:ReadFlagChange><t:ItemId Id="M1" ChangeKey="k2"/><t:IsRead>true</t:IsRead></t:ReadFlagChange>`,
		`<t:Delete><t:ItemId Id="M2" ChangeKey="k1"/></t:Delete>`,
	)))
	require.NoError(t, a.UpdateChangedMessages(context.Background(), "INBOX"))

	messages, err = a.ListMessages(context.Background(), "INBOX")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsRead)

	updated := events.ofType(enum.MailEventUpdated)
	require.Len(t, updated, 1)
	assert.False(t, updated[0].InitialSync)
	deleted := events.ofType(enum.MailEventDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "M2", deleted[0].ItemID)
}

func TestEWSAccount_InvalidSyncStateStartsOver(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})
	poster.on("SyncFolderItems", ewsSync("S1", true, ewsCreate("M1", "k1", "Hello", false)))
	require.NoError(t, a.UpdateFolder(context.Background(), "INBOX"))

	poster.queues["SyncFolderItems"] = nil
	poster.on("SyncFolderItems",
		soapResponse(`<m:SyncFolderItemsResponseMessage ResponseClass="Error">
<m:MessageText>Invalid sync state data.</m:MessageText>
<m:ResponseCode>ErrorInvalidSyncStateData</m:ResponseCode>
</m:SyncFolderItemsResponseMessage>`),
		ewsSync("S9", true, ""),
	)
	require.NoError(t, a.UpdateFolder(context.Background(), "INBOX"))

	assert.Equal(t, "S9", a.tree.SyncState("INBOX"))
	assert.NotContains(t, poster.lastBody("SyncFolderItems"), "<m:SyncState>")
}

func TestEWSAccount_UpdateFolderUnknownFolder(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.UpdateChangedMessages(context.Background(), "NOPE")

	assert.ErrorIs(t, err, folders.ErrFolderNotFound)
}

func TestEWSAccount_MarkReadKeepsNewChangeKey(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})
	poster.on("SyncFolderItems", ewsSync("S1", true, ewsCreate("M1", "k1", "Hello", false)))
	require.NoError(t, a.UpdateFolder(context.Background(), "INBOX"))

	poster.on("UpdateItem", soapResponse(`<m:UpdateItemResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:Items><t:Message><t:ItemId Id="M1" ChangeKey="k2"/></t:Message></m:Items>
</m:UpdateItemResponseMessage>`))
	require.NoError(t, a.MarkRead(context.Background(), "INBOX", "M1", true))

	m, ok := a.tree.Message("INBOX", "M1")
	require.True(t, ok)
	assert.True(t, m.IsRead)
	assert.Equal(t, "k2", m.ChangeKey)
	body := poster.lastBody("UpdateItem")
	assert.Contains(t, body, `ConflictResolution="AutoResolve"`)
	assert.Contains(t, body, `ChangeKey="k1"`)
}

func TestEWSAccount_MarkReadUnknownMessage(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.MarkRead(context.Background(), "INBOX", "missing", true)

	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.Equal(t, 0, poster.count("UpdateItem"))
}

func TestEWSAccount_DeleteMessages(t *testing.T) {
	poster := newRoutedPoster("ews")
	events := &eventRecorder{}
	a := loggedInEWS(t, poster, events)
	poster.on("SyncFolderItems", ewsSync("S1", true, ewsCreate("M1", "k1", "Hello", false)))
	require.NoError(t, a.UpdateFolder(context.Background(), "INBOX"))

	poster.on("DeleteItem", soapResponse(`<m:DeleteItemResponseMessage ResponseClass="Success"><m:ResponseCode>NoError</m:ResponseCode></m:DeleteItemResponseMessage>`))
	require.NoError(t, a.DeleteMessages(context.Background(), "INBOX", "M1"))

	assert.Empty(t, a.tree.ItemIDs("INBOX"))
	assert.Len(t, events.ofType(enum.MailEventDeleted), 1)
}

func TestEWSAccount_Subscribe(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})
	poster.on("Subscribe", soapResponse(`<m:SubscribeResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:SubscriptionId>SUB-1</m:SubscriptionId>
</m:SubscribeResponseMessage>`))

	id, err := a.Subscribe(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "SUB-1", id)
}

func streamingEnvelope(status, notifications string) []byte {
	return soapResponse(`<m:GetStreamingEventsResponseMessage ResponseClass="Success">
<m:ResponseCode>NoError</m:ResponseCode>
<m:Notifications>` + notifications + `</m:Notifications>
<m:ConnectionStatus>` + status + `</m:ConnectionStatus>
</m:GetStreamingEventsResponseMessage>`)
}

func TestEWSAccount_HandleNewMailSyncsParent(t *testing.T) {
	poster := newRoutedPoster("ews")
	events := &eventRecorder{}
	a := loggedInEWS(t, poster, events)
	poster.on("SyncFolderItems", ewsSync("S1", true, ewsCreate("M1", "k1", "Hello", false)))

	err := a.Handle(context.Background(), streamingEnvelope("OK", `<m:Notification>
<t:SubscriptionId>SUB-1</t:SubscriptionId>
<t:NewMailEvent><t:TimeStamp>2024-03-01T10:00:00Z</t:TimeStamp><t:ItemId Id="M1" ChangeKey="k1"/><t:ParentFolderId Id="INBOX" ChangeKey="a"/></t:NewMailEvent>
</m:Notification>`))

	require.NoError(t, err)
	assert.Equal(t, 1, poster.count("SyncFolderItems"))
	assert.Equal(t, []string{"M1"}, a.tree.ItemIDs("INBOX"))
}

func TestEWSAccount_HandleClosedConnection(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.Handle(context.Background(), streamingEnvelope("Closed", ""))

	assert.ErrorIs(t, err, stream.ErrConnectionClosed)
}

func TestEWSAccount_HandleExpiredSubscription(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.Handle(context.Background(), soapResponse(`<m:GetStreamingEventsResponseMessage ResponseClass="Error">
<m:MessageText>The specified subscription was not found.</m:MessageText>
<m:ResponseCode>ErrorSubscriptionNotFound</m:ResponseCode>
</m:GetStreamingEventsResponseMessage>`))

	assert.ErrorIs(t, err, stream.ErrResubscribe)
}

func TestEWSAccount_HandleIgnoresKeepAlive(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.Handle(context.Background(), []byte(`<Envelope><Body><KeepAlive/></Body></Envelope>`))

	assert.NoError(t, err)
}

func TestEWSAccount_LogoutDropsCredential(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	require.NoError(t, a.Logout(context.Background()))

	assert.False(t, a.IsLoggedIn())
	assert.Equal(t, stream.StateIdle.String(), a.Status().Streaming)
}

func TestEWSAccount_ListenRecordsFatalStreamError(t *testing.T) {
	poster := newRoutedPoster("ews")
	a := loggedInEWS(t, poster, &eventRecorder{})

	err := a.Listen(context.Background())

	require.Error(t, err)
	status := a.Status()
	assert.Contains(t, status.LastError, "subscribing to notifications")
	assert.Equal(t, stream.StateClosed.String(), status.Streaming)
}
