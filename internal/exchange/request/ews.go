package request

import (
	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

const (
	ServerVersion = "Exchange2013"

	DeleteTypeMoveToDeletedItems = "MoveToDeletedItems"

	DistinguishedMsgFolderRoot = "msgfolderroot"
	DistinguishedInbox         = "inbox"
	DistinguishedSentItems     = "sentitems"

	// Exchange closes GetStreamingEvents after this many minutes at most.
	StreamingConnectionTimeout = 29

	syncBatchSize = 512
)

// StreamingEventTypes are the event types subscribed to on a streaming subscription.
var StreamingEventTypes = []string{
	"CopiedEvent",
	"CreatedEvent",
	"DeletedEvent",
	"ModifiedEvent",
	"MovedEvent",
	"NewMailEvent",
}

// MessageProperties are fetched for every message on sync.
var MessageProperties = []string{
	"item:Subject",
	"item:DateTimeReceived",
	"item:Size",
	"message:From",
	"message:IsRead",
}

// ErrInvalidInstanceIndex is returned for occurrence indexes below 1.
var ErrInvalidInstanceIndex = errors.New("occurrence instance index must be 1 or greater")

func obj(kv ...any) transcode.Object {
	return transcode.New(kv...)
}

func fieldURIs(uris []string) []transcode.Object {
	out := make([]transcode.Object, 0, len(uris))
	for _, uri := range uris {
		out = append(out, obj("FieldURI", uri))
	}
	return out
}

// EWSCreateItem builds m:CreateItem. Only set directives reach the wire;
// the item element per item type collects its properties in call order.
type EWSCreateItem struct {
	fieldList
	attributes        transcode.Object
	savedItemFolderID string
}

func NewEWSCreateItem(attributes transcode.Object) *EWSCreateItem {
	return &EWSCreateItem{attributes: attributes}
}

// SaveTo stores the created item in a distinguished folder, e.g. sentitems.
func (r *EWSCreateItem) SaveTo(distinguishedFolderID string) {
	r.savedItemFolderID = distinguishedFolderID
}

func (r *EWSCreateItem) Action() string { return "CreateItem" }

func (r *EWSCreateItem) Wire() any {
	var items transcode.Object
	for _, d := range r.directives {
		if d.Kind != SetField {
			continue
		}
		key := "t$" + d.ItemType
		current, _ := items.Get(key)
		item, _ := current.(transcode.Object)
		item.Add("t$"+d.Property, d.Value)
		items.Set(key, item)
	}

	body := transcode.Object{}
	if r.savedItemFolderID != "" {
		body.Add("m$SavedItemFolderId", obj("t$DistinguishedFolderId", obj("Id", r.savedItemFolderID)))
	}
	body.Add("m$Items", items)
	body = withAttributes(body, r.attributes)
	return obj("m$CreateItem", body)
}

type occurrenceRef struct {
	recurringMasterID string
	instanceIndex     int
}

// EWSUpdateItem builds m:UpdateItem for one item or one occurrence of a
// recurring item. Set and delete directives keep their relative order.
type EWSUpdateItem struct {
	fieldList
	itemID     string
	changeKey  string
	occurrence *occurrenceRef
	attributes transcode.Object
}

func NewEWSUpdateItem(itemID, changeKey string, attributes transcode.Object) *EWSUpdateItem {
	return &EWSUpdateItem{itemID: itemID, changeKey: changeKey, attributes: attributes}
}

func NewEWSUpdateOccurrence(recurringMasterID string, instanceIndex int, attributes transcode.Object) (*EWSUpdateItem, error) {
	if instanceIndex < 1 {
		return nil, ErrInvalidInstanceIndex
	}
	return &EWSUpdateItem{
		occurrence: &occurrenceRef{recurringMasterID: recurringMasterID, instanceIndex: instanceIndex},
		attributes: attributes,
	}, nil
}

func (r *EWSUpdateItem) Action() string { return "UpdateItem" }

func (r *EWSUpdateItem) Wire() any {
	updates := transcode.Object{}
	for _, d := range r.directives {
		uri := obj("FieldURI", d.FieldURI)
		if d.Kind == DeleteField {
			updates.Add("t$DeleteItemField", obj("t$FieldURI", uri))
			continue
		}
		updates.Add("t$SetItemField", obj(
			"t$FieldURI", uri,
			"t$"+d.ItemType, obj("t$"+d.Property, d.Value),
		))
	}

	change := transcode.Object{}
	if r.occurrence != nil {
		change.Add("t$OccurrenceItemId", obj(
			"RecurringMasterId", r.occurrence.recurringMasterID,
			"InstanceIndex", r.occurrence.instanceIndex,
		))
	} else {
		id := obj("Id", r.itemID)
		if r.changeKey != "" {
			id.Add("ChangeKey", r.changeKey)
		}
		change.Add("t$ItemId", id)
	}
	change.Add("t$Updates", updates)

	body := obj("ConflictResolution", "AlwaysOverwrite", "m$ItemChanges", obj("t$ItemChange", change))
	body = withAttributes(body, r.attributes)
	return obj("m$UpdateItem", body)
}

// withAttributes applies caller attributes over body, replacing any
// default of the same name.
func withAttributes(body, attributes transcode.Object) transcode.Object {
	for _, attr := range attributes {
		body.Set(attr.Key, attr.Value)
	}
	return body
}

func itemIDs(ids []string) []transcode.Object {
	out := make([]transcode.Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, obj("Id", id))
	}
	return out
}

// EWSDeleteItem moves the given items to Deleted Items.
func EWSDeleteItem(ids ...string) Request {
	return &Operation{
		name: "DeleteItem",
		body: obj("m$DeleteItem", obj(
			"m$ItemIds", obj("t$ItemId", itemIDs(ids)),
			"DeleteType", DeleteTypeMoveToDeletedItems,
		)),
	}
}

// EWSGetFolder looks up a distinguished folder, mainly to learn its id.
func EWSGetFolder(distinguishedID string) Request {
	return &Operation{
		name: "GetFolder",
		body: obj("m$GetFolder", obj(
			"m$FolderShape", obj("t$BaseShape", "IdOnly"),
			"m$FolderIds", obj("t$DistinguishedFolderId", obj("Id", distinguishedID)),
		)),
	}
}

// EWSFindFolder lists every folder below a distinguished root.
func EWSFindFolder(rootDistinguishedID string) Request {
	return &Operation{
		name: "FindFolder",
		body: obj("m$FindFolder", obj(
			"m$FolderShape", obj(
				"t$BaseShape", "Default",
				"t$AdditionalProperties", obj("t$FieldURI", fieldURIs([]string{
					"folder:FolderClass",
					"folder:ParentFolderId",
					"folder:DistinguishedFolderId",
				})),
			),
			"m$ParentFolderIds", obj("t$DistinguishedFolderId", obj("Id", rootDistinguishedID)),
			"Traversal", "Deep",
		)),
	}
}

// EWSSubscribe opens a streaming subscription on all folders.
func EWSSubscribe(eventTypes ...string) Request {
	if len(eventTypes) == 0 {
		eventTypes = StreamingEventTypes
	}
	return &Operation{
		name: "Subscribe",
		body: obj("m$Subscribe", obj(
			"m$StreamingSubscriptionRequest", obj(
				"t$EventTypes", obj("t$EventType", eventTypes),
				"SubscribeToAllFolders", true,
			),
		)),
	}
}

func EWSGetStreamingEvents(subscriptionID string, timeoutMinutes int) Request {
	if timeoutMinutes <= 0 || timeoutMinutes > StreamingConnectionTimeout {
		timeoutMinutes = StreamingConnectionTimeout
	}
	return &Operation{
		name: "GetStreamingEvents",
		body: obj("m$GetStreamingEvents", obj(
			"m$SubscriptionIds", obj("t$SubscriptionId", subscriptionID),
			"m$ConnectionTimeout", timeoutMinutes,
		)),
	}
}

// EWSSyncFolderItems fetches item changes since syncState. An empty state
// starts a full sync.
func EWSSyncFolderItems(folderID, syncState string) Request {
	body := obj(
		"m$ItemShape", obj(
			"t$BaseShape", "IdOnly",
			"t$AdditionalProperties", obj("t$FieldURI", fieldURIs(MessageProperties)),
		),
		"m$SyncFolderId", obj("t$FolderId", obj("Id", folderID)),
	)
	if syncState != "" {
		body.Add("m$SyncState", syncState)
	}
	body.Add("m$MaxChangesReturned", syncBatchSize)
	return &Operation{name: "SyncFolderItems", body: obj("m$SyncFolderItems", body)}
}

// EWSGetItem fetches the given items with the sync properties plus the
// item class and change key.
func EWSGetItem(ids ...string) Request {
	return &Operation{
		name: "GetItem",
		body: obj("m$GetItem", obj(
			"m$ItemShape", obj(
				"t$BaseShape", "IdOnly",
				"t$AdditionalProperties", obj("t$FieldURI", fieldURIs(append([]string{"item:ItemClass"}, MessageProperties...))),
			),
			"m$ItemIds", obj("t$ItemId", itemIDs(ids)),
		)),
	}
}
