package request

import (
	"encoding/base64"

	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

type Person struct {
	Name         string `json:"name"`
	EmailAddress string `json:"email"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId,omitempty"`
	Inline      bool   `json:"inline"`
	Content     []byte `json:"content"`
}

// EMail is an outgoing message.
type EMail struct {
	From        Person       `json:"from"`
	ReplyTo     []Person     `json:"replyTo,omitempty"`
	To          []Person     `json:"to"`
	Cc          []Person     `json:"cc,omitempty"`
	Bcc         []Person     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	InReplyTo   string       `json:"inReplyTo,omitempty"`
	References  string       `json:"references,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Recipients returns every To, Cc and Bcc person.
func (e *EMail) Recipients() []Person {
	out := make([]Person, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Bcc...)
}

func (e *EMail) bodyType() (string, string) {
	if e.HTML != "" {
		return "HTML", e.HTML
	}
	return "Text", e.Text
}

func ewsMailbox(p Person) transcode.Object {
	mailbox := transcode.Object{}
	if p.Name != "" {
		mailbox.Add("t$Name", p.Name)
	}
	mailbox.Add("t$EmailAddress", p.EmailAddress)
	return mailbox
}

// addEWSRecipients adds a recipient list field, skipping empty lists.
func addEWSRecipients(r FieldRequest, property string, people []Person) {
	if len(people) == 0 {
		return
	}
	mailboxes := make([]transcode.Object, 0, len(people))
	for _, p := range people {
		mailboxes = append(mailboxes, ewsMailbox(p))
	}
	r.AddField("Message", property, obj("t$Mailbox", mailboxes), "message:"+property)
}

// NewEWSSendMessage builds a CreateItem that sends email and keeps a copy in Sent Items.
func NewEWSSendMessage(email *EMail) *EWSCreateItem {
	r := NewEWSCreateItem(obj("MessageDisposition", "SendAndSaveCopy"))
	r.SaveTo(DistinguishedSentItems)

	bodyType, body := email.bodyType()
	r.AddField("Message", "ItemClass", "IPM.Note", "item:ItemClass")
	r.AddField("Message", "Subject", email.Subject, "item:Subject")
	r.AddField("Message", "Body", obj("BodyType", bodyType, transcode.TextContentKey, body), "item:Body")
	if len(email.Attachments) > 0 {
		files := make([]transcode.Object, 0, len(email.Attachments))
		for _, a := range email.Attachments {
			file := obj("t$Name", a.Filename, "t$ContentType", a.ContentType)
			if a.ContentID != "" {
				file.Add("t$ContentId", a.ContentID)
			}
			file.Add("t$IsInline", a.Inline)
			file.Add("t$Content", base64.StdEncoding.EncodeToString(a.Content))
			files = append(files, file)
		}
		r.AddField("Message", "Attachments", obj("t$FileAttachment", files), "item:Attachments")
	}
	if email.InReplyTo != "" {
		r.AddField("Message", "InReplyTo", email.InReplyTo, "item:InReplyTo")
	}
	addEWSRecipients(r, "ToRecipients", email.To)
	addEWSRecipients(r, "CcRecipients", email.Cc)
	addEWSRecipients(r, "BccRecipients", email.Bcc)
	if email.From.EmailAddress != "" {
		r.AddField("Message", "From", obj("t$Mailbox", ewsMailbox(email.From)), "message:From")
	}
	if email.References != "" {
		r.AddField("Message", "References", email.References, "message:References")
	}
	addEWSRecipients(r, "ReplyTo", email.ReplyTo)
	return r
}

func owaMailbox(p Person) transcode.Object {
	return obj("__type", exchangeType("EmailAddress"), "Name", p.Name, "EmailAddress", p.EmailAddress)
}

func addOWARecipients(r FieldRequest, property string, people []Person) {
	if len(people) == 0 {
		return
	}
	mailboxes := make([]transcode.Object, 0, len(people))
	for _, p := range people {
		mailboxes = append(mailboxes, owaMailbox(p))
	}
	r.AddField("Message", property, mailboxes, "message:"+property)
}

// NewOWASendMessage is the OWA counterpart of NewEWSSendMessage.
func NewOWASendMessage(email *EMail) *OWACreateItem {
	r := NewOWACreateItem(obj(
		"MessageDisposition", "SendAndSaveCopy",
		"SavedItemFolderId", obj(
			"__type", exchangeType("TargetFolderId"),
			"BaseFolderId", obj("__type", exchangeType("DistinguishedFolderId"), "Id", DistinguishedSentItems),
		),
	))

	bodyType, body := email.bodyType()
	r.AddField("Message", "ItemClass", "IPM.Note", "item:ItemClass")
	r.AddField("Message", "Subject", email.Subject, "item:Subject")
	r.AddField("Message", "Body", obj("__type", exchangeType("BodyContentType"), "BodyType", bodyType, "Value", body), "item:Body")
	if len(email.Attachments) > 0 {
		files := make([]transcode.Object, 0, len(email.Attachments))
		for _, a := range email.Attachments {
			files = append(files, obj(
				"__type", exchangeType("FileAttachment"),
				"Name", a.Filename,
				"ContentType", a.ContentType,
				"ContentId", a.ContentID,
				"IsInline", a.Inline,
				"Content", base64.StdEncoding.EncodeToString(a.Content),
			))
		}
		r.AddField("Message", "Attachments", files, "item:Attachments")
	}
	if email.InReplyTo != "" {
		r.AddField("Message", "InReplyTo", email.InReplyTo, "item:InReplyTo")
	}
	addOWARecipients(r, "ToRecipients", email.To)
	addOWARecipients(r, "CcRecipients", email.Cc)
	addOWARecipients(r, "BccRecipients", email.Bcc)
	if email.From.EmailAddress != "" {
		r.AddField("Message", "From", obj(
			"__type", exchangeType("SingleRecipientType"),
			"Mailbox", owaMailbox(email.From),
		), "message:From")
	}
	if email.References != "" {
		r.AddField("Message", "References", email.References, "message:References")
	}
	addOWARecipients(r, "ReplyTo", email.ReplyTo)
	return r
}
