package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/customeros/exchangestack/dto"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/utils"
)

func TestMailboxChangedEntity(t *testing.T) {
	folders := mailboxChangedEntity(dto.MailboxChanged{AccountID: "exch_1", EventType: enum.MailEventFolders})
	assert.Equal(t, entityRef{accountID: "exch_1", id: "exch_1", kind: enum.EntityFolder}, folders)

	message := mailboxChangedEntity(dto.MailboxChanged{AccountID: "exch_1", FolderID: "inbox", ItemID: "AAMk", EventType: enum.MailEventNew})
	assert.Equal(t, enum.EntityMessage, message.kind)
	assert.Equal(t, "exch_1-inbox-AAMk", message.id)
}

func TestNewEvent(t *testing.T) {
	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{AppSource: "exchangestack"})
	ref := entityRef{accountID: "exch_1", id: "exch_1", kind: enum.EntityAccount}
	before := time.Now().UTC()

	event := newEvent(ctx, "abc:def:0:1", ref, &dto.SendEmail{AccountID: "exch_1"})

	assert.True(t, strings.HasPrefix(event.Event.Id, "event"))
	assert.Equal(t, "exch_1", event.Event.AccountId)
	assert.Equal(t, enum.EntityAccount, event.Event.EntityType)
	assert.Equal(t, "SendEmail", event.Event.EventType)
	assert.Equal(t, "abc:def:0:1", event.Metadata.UberTraceId)
	assert.Equal(t, "exchangestack", event.Metadata.AppSource)
	assert.False(t, event.Metadata.Timestamp.Before(before))
}

func TestQueueDeclarations(t *testing.T) {
	for _, q := range queueDecls {
		assert.Equal(t, q.name+"-dlq", q.deadLetterQueue())
		args := q.arguments(time.Hour)
		assert.Equal(t, ExchangeDeadLetter, args["x-dead-letter-exchange"])
		assert.Equal(t, int64(3600000), args["x-message-ttl"])
	}
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}

func TestEventTypeOf(t *testing.T) {
	assert.Equal(t, "MailboxChanged", eventTypeOf(dto.MailboxChanged{}))
	assert.Equal(t, "SendEmail", eventTypeOf(&dto.SendEmail{}))
	assert.Equal(t, "", eventTypeOf(nil))
}
