package request

import (
	"net/url"
	"strings"

	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

const owaTypeSuffix = ":#Exchange"

const jsonRequestSuffix = "JsonRequest" + owaTypeSuffix

const owaPageSize = 100

func exchangeType(name string) string {
	return name + owaTypeSuffix
}

// ActionFromType derives the service.svc action from a JSON request type,
// e.g. "CreateItemJsonRequest:#Exchange" gives "CreateItem".
func ActionFromType(jsonType string) string {
	return strings.TrimSuffix(jsonType, jsonRequestSuffix)
}

func owaHeader() transcode.Object {
	return obj(
		"__type", exchangeType("JsonRequestHeaders"),
		"RequestServerVersion", ServerVersion,
		"TimeZoneContext", obj(
			"__type", exchangeType("TimeZoneContext"),
			"TimeZoneDefinition", obj("__type", exchangeType("TimeZoneDefinitionType"), "Id", "UTC"),
		),
	)
}

// owaEnvelope wraps body into the request/header/body triple every OWA
// JSON call shares.
func owaEnvelope(action string, body transcode.Object) transcode.Object {
	fullBody := append(obj("__type", exchangeType(action+"Request")), body...)
	return obj(
		"__type", action+jsonRequestSuffix,
		"Header", owaHeader(),
		"Body", fullBody,
	)
}

type owaRequest struct {
	wire transcode.Object
}

func (r *owaRequest) Action() string {
	t, _ := r.wire.Get("__type")
	s, _ := t.(string)
	return ActionFromType(s)
}

func (r *owaRequest) Wire() any { return r.wire }

// OWACreateItem builds CreateItem for OWA. Each item type becomes one
// entry of Items carrying its __type.
type OWACreateItem struct {
	fieldList
	attributes transcode.Object
}

func NewOWACreateItem(attributes transcode.Object) *OWACreateItem {
	return &OWACreateItem{attributes: attributes}
}

func (r *OWACreateItem) Action() string { return "CreateItem" }

func (r *OWACreateItem) Wire() any {
	var items []transcode.Object
	index := make(map[string]int)
	for _, d := range r.directives {
		if d.Kind != SetField {
			continue
		}
		i, ok := index[d.ItemType]
		if !ok {
			i = len(items)
			index[d.ItemType] = i
			items = append(items, obj("__type", exchangeType(d.ItemType)))
		}
		items[i].Add(d.Property, d.Value)
	}

	body := obj("Items", items)
	body = withAttributes(body, r.attributes)
	return owaEnvelope("CreateItem", body)
}

// OWAUpdateItem builds UpdateItem for OWA for one item or one occurrence.
type OWAUpdateItem struct {
	fieldList
	itemID     string
	changeKey  string
	occurrence *occurrenceRef
	attributes transcode.Object
}

func NewOWAUpdateItem(itemID, changeKey string, attributes transcode.Object) *OWAUpdateItem {
	return &OWAUpdateItem{itemID: itemID, changeKey: changeKey, attributes: attributes}
}

func NewOWAUpdateOccurrence(recurringMasterID string, instanceIndex int, attributes transcode.Object) (*OWAUpdateItem, error) {
	if instanceIndex < 1 {
		return nil, ErrInvalidInstanceIndex
	}
	return &OWAUpdateItem{
		occurrence: &occurrenceRef{recurringMasterID: recurringMasterID, instanceIndex: instanceIndex},
		attributes: attributes,
	}, nil
}

func (r *OWAUpdateItem) Action() string { return "UpdateItem" }

func (r *OWAUpdateItem) Wire() any {
	updates := make([]transcode.Object, 0, len(r.directives))
	for _, d := range r.directives {
		path := obj("__type", exchangeType("PropertyUri"), "FieldURI", d.FieldURI)
		if d.Kind == DeleteField {
			updates = append(updates, obj("__type", exchangeType("DeleteItemField"), "Path", path))
			continue
		}
		updates = append(updates, obj(
			"__type", exchangeType("SetItemField"),
			"Path", path,
			"Item", obj("__type", exchangeType(d.ItemType), d.Property, d.Value),
		))
	}

	var id transcode.Object
	if r.occurrence != nil {
		id = obj(
			"__type", exchangeType("OccurrenceItemId"),
			"RecurringMasterId", r.occurrence.recurringMasterID,
			"InstanceIndex", r.occurrence.instanceIndex,
		)
	} else {
		id = obj("__type", exchangeType("ItemId"), "Id", r.itemID)
		if r.changeKey != "" {
			id.Add("ChangeKey", r.changeKey)
		}
	}

	change := obj("__type", exchangeType("ItemChange"), "Updates", updates, "ItemId", id)
	body := obj("ItemChanges", []transcode.Object{change}, "ConflictResolution", "AlwaysOverwrite")
	body = withAttributes(body, r.attributes)
	return owaEnvelope("UpdateItem", body)
}

func owaItemIDs(ids []string) []transcode.Object {
	out := make([]transcode.Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, obj("__type", exchangeType("ItemId"), "Id", id))
	}
	return out
}

func owaPropertyURIs(uris []string) []transcode.Object {
	out := make([]transcode.Object, 0, len(uris))
	for _, uri := range uris {
		out = append(out, obj("__type", exchangeType("PropertyUri"), "FieldURI", uri))
	}
	return out
}

func OWADeleteItem(ids ...string) Request {
	return &owaRequest{wire: owaEnvelope("DeleteItem", obj(
		"ItemIds", owaItemIDs(ids),
		"DeleteType", DeleteTypeMoveToDeletedItems,
	))}
}

func OWAGetItem(ids ...string) Request {
	return &owaRequest{wire: owaEnvelope("GetItem", obj(
		"ItemShape", obj(
			"__type", exchangeType("ItemResponseShape"),
			"BaseShape", "IdOnly",
			"AdditionalProperties", owaPropertyURIs([]string{"ItemClass", "Subject", "DateTimeReceived", "Size", "From", "IsRead"}),
		),
		"ItemIds", owaItemIDs(ids),
	))}
}

// OWAFindFolder lists every folder below a distinguished root and returns
// the root itself as ParentFolder.
func OWAFindFolder(rootDistinguishedID string) Request {
	return &owaRequest{wire: owaEnvelope("FindFolder", obj(
		"FolderShape", obj(
			"__type", exchangeType("FolderResponseShape"),
			"BaseShape", "Default",
			"AdditionalProperties", owaPropertyURIs([]string{"FolderClass", "ParentFolderId", "DistinguishedFolderId"}),
		),
		"ParentFolderIds", []transcode.Object{
			obj("__type", exchangeType("DistinguishedFolderId"), "Id", rootDistinguishedID),
		},
		"Traversal", "Deep",
		"ReturnParentFolder", true,
	))}
}

// OWAFindItem pages through the messages of a folder.
func OWAFindItem(folderID string, offset int) Request {
	return &owaRequest{wire: owaEnvelope("FindItem", obj(
		"ItemShape", obj(
			"__type", exchangeType("ItemResponseShape"),
			"BaseShape", "IdOnly",
			"AdditionalProperties", owaPropertyURIs([]string{"Subject", "DateTimeReceived", "Size", "From", "IsRead"}),
		),
		"ParentFolderIds", []transcode.Object{
			obj("__type", exchangeType("FolderId"), "Id", folderID),
		},
		"Traversal", "Shallow",
		"Paging", obj(
			"__type", exchangeType("IndexedPageView"),
			"BasePoint", "Beginning",
			"Offset", offset,
			"MaxEntriesReturned", owaPageSize,
		),
	))}
}

// Notification ids OWA uses for the subscriptions below.
const (
	OWAHierarchyNotification = "HierarchyNotification"
	OWANewMailNotification   = "NewMailNotification"
)

func OWASubscribeToNotification() Request {
	subscription := func(id string) transcode.Object {
		return obj(
			"__type", exchangeType("SubscriptionData"),
			"SubscriptionId", id,
			"Parameters", obj(
				"__type", exchangeType("SubscriptionParameters"),
				"NotificationType", id,
			),
		)
	}
	return &Operation{
		name: "SubscribeToNotification",
		body: obj(
			"request", obj(
				"__type", exchangeType("NotificationSubscribeJsonRequest"),
				"Header", owaHeader(),
			),
			"subscriptionData", []transcode.Object{
				subscription(OWAHierarchyNotification),
				subscription(OWANewMailNotification),
			},
		),
	}
}

// OWAFinishNotificationRequest asks the server for a notification channel id.
func OWAFinishNotificationRequest() Request {
	return &Operation{
		name:     "FinishNotificationRequest",
		endpoint: "ev.owa2?ns=PendingRequest&ev=FinishNotificationRequest&UA=0",
	}
}

// OWAPendingNotification opens the long-lived notification stream for channel cid.
func OWAPendingNotification(cid string) Request {
	return &Operation{
		name:     "PendingNotificationRequest",
		endpoint: "ev.owa2?ns=PendingRequest&ev=PendingNotificationRequest&UA=0&cid=" + url.QueryEscape(cid),
	}
}
