package request

import (
	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

const DistinguishedContacts = "contacts"

// DistributionList is a contact group stored in the mailbox. An empty
// ItemID means the list does not exist on the server yet.
type DistributionList struct {
	ItemID      string
	ChangeKey   string
	Name        string
	Description string
	Members     []Person
}

func (dl *DistributionList) textBody() any {
	if dl.Description == "" {
		return nil
	}
	return obj("BodyType", "Text", transcode.TextContentKey, dl.Description)
}

// NewEWSSaveDistributionList creates the list or overwrites the fields of
// an existing one.
func NewEWSSaveDistributionList(dl *DistributionList) FieldRequest {
	var r FieldRequest
	if dl.ItemID == "" {
		create := NewEWSCreateItem(nil)
		create.SaveTo(DistinguishedContacts)
		r = create
	} else {
		r = NewEWSUpdateItem(dl.ItemID, dl.ChangeKey, nil)
	}

	r.AddField("DistributionList", "Body", dl.textBody(), "item:Body")
	r.AddField("DistributionList", "DisplayName", dl.Name, "contacts:DisplayName")
	var members any = ""
	if len(dl.Members) > 0 {
		list := make([]transcode.Object, 0, len(dl.Members))
		for _, p := range dl.Members {
			list = append(list, obj("t$Mailbox", ewsMailbox(p)))
		}
		members = obj("t$Member", list)
	}
	r.AddField("DistributionList", "Members", members, "distributionlist:Members")
	return r
}

func NewOWASaveDistributionList(dl *DistributionList) FieldRequest {
	var r FieldRequest
	if dl.ItemID == "" {
		r = NewOWACreateItem(obj(
			"SavedItemFolderId", obj(
				"__type", exchangeType("TargetFolderId"),
				"BaseFolderId", obj("__type", exchangeType("DistinguishedFolderId"), "Id", DistinguishedContacts),
			),
		))
	} else {
		r = NewOWAUpdateItem(dl.ItemID, dl.ChangeKey, nil)
	}

	var body any
	if dl.Description != "" {
		body = obj("__type", exchangeType("BodyContentType"), "BodyType", "Text", "Value", dl.Description)
	}
	r.AddField("DistributionList", "Body", body, "Body")
	r.AddField("DistributionList", "DisplayName", dl.Name, "DisplayName")
	members := make([]transcode.Object, 0, len(dl.Members))
	for _, p := range dl.Members {
		members = append(members, obj("__type", exchangeType("DistributionListMember"), "Mailbox", owaMailbox(p)))
	}
	r.AddField("DistributionList", "Members", members, "Members")
	return r
}

// ParseDistributionList reads a decoded DistributionList item.
func ParseDistributionList(v any) DistributionList {
	dl := DistributionList{
		ItemID:      transcode.GetString(v, "ItemId", "Id"),
		ChangeKey:   transcode.GetString(v, "ItemId", "ChangeKey"),
		Name:        transcode.GetString(v, "DisplayName"),
		Description: transcode.GetString(v, "Body", "Value"),
	}
	members := transcode.Get(v, "Members")
	if inner := transcode.Get(members, "Member"); inner != nil {
		members = inner
	}
	for _, member := range transcode.EnsureArray(members) {
		address := transcode.GetString(member, "Mailbox", "EmailAddress")
		if address == "" {
			continue
		}
		dl.Members = append(dl.Members, Person{
			Name:         transcode.GetString(member, "Mailbox", "Name"),
			EmailAddress: address,
		})
	}
	return dl
}
