package folders

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

type EventKind string

const (
	CopiedEvent   EventKind = "CopiedEvent"
	CreatedEvent  EventKind = "CreatedEvent"
	DeletedEvent  EventKind = "DeletedEvent"
	ModifiedEvent EventKind = "ModifiedEvent"
	MovedEvent    EventKind = "MovedEvent"
	NewMailEvent  EventKind = "NewMailEvent"
)

func (k EventKind) String() string {
	return string(k)
}

// EventKinds lists every kind in the order notifications are processed.
var EventKinds = []EventKind{CopiedEvent, CreatedEvent, DeletedEvent, ModifiedEvent, MovedEvent, NewMailEvent}

// Event is one change reported by the server. Item events carry ItemID
// and ParentFolderID; folder events carry FolderID. Moves and copies also
// carry the previous parent.
type Event struct {
	Kind              EventKind
	ItemID            string
	FolderID          string
	ParentFolderID    string
	OldParentFolderID string
}

func (e Event) isItemEvent() bool {
	return e.ItemID != "" || e.Kind == NewMailEvent
}

// Notification is a batch of events delivered together.
type Notification struct {
	Events []Event
}

// MalformedEventError reports an event missing a field its kind requires.
type MalformedEventError struct {
	Event  Event
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("%s event did not conform to schema: %s", e.Event.Kind, e.Reason)
}

// Syncer performs the fetches the engine decides on.
type Syncer interface {
	// RefreshFolders re-lists the whole hierarchy.
	RefreshFolders(ctx context.Context) error
	// UpdateFolder fetches the message changes of one folder.
	UpdateFolder(ctx context.Context, folderID string) error
}

// ApplyResult reports what one notification led to.
type ApplyResult struct {
	HierarchyRefreshed bool
	UpdatedFolders     []string
	Malformed          int
}

// Engine turns notifications into the smallest set of fetches: at most one
// hierarchy refresh and one message fetch per affected folder.
type Engine struct {
	tree    *Tree
	syncer  Syncer
	onError func(error)
	log     logger.Logger
}

func NewEngine(tree *Tree, syncer Syncer, onError func(error), log logger.Logger) *Engine {
	if onError == nil {
		onError = func(error) {}
	}
	return &Engine{tree: tree, syncer: syncer, onError: onError, log: log}
}

func (e *Engine) Tree() *Tree {
	return e.tree
}

// ApplyFolderListing merges a full listing into the tree.
func (e *Engine) ApplyFolderListing(entries []FolderEntry) ListingResult {
	return e.tree.ApplyFolderListing(entries)
}

// ApplyEvent classifies the events of n. Any folder event triggers one
// hierarchy refresh. Item events collect their parent folders, including
// the previous parent of a move, and each distinct folder is fetched once,
// in first-seen order, after the refresh. Malformed events and failed
// fetches go to the error handler and do not stop the batch.
func (e *Engine) ApplyEvent(ctx context.Context, n Notification) ApplyResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.ApplyEvent")
	defer span.Finish()
	tracing.TagComponentReconciler(span)
	tracing.TagAccount(span, tracing.AccountFromContext(ctx))
	span.SetTag("events.count", len(n.Events))

	var result ApplyResult
	hierarchyChanged := false
	seen := make(map[string]bool)
	var folderIDs []string
	addFolder := func(id string) {
		if !seen[id] {
			seen[id] = true
			folderIDs = append(folderIDs, id)
		}
	}

	for _, ev := range n.Events {
		if err := validate(ev); err != nil {
			result.Malformed++
			e.onError(err)
			continue
		}
		if !ev.isItemEvent() {
			hierarchyChanged = true
			continue
		}
		if ev.Kind == MovedEvent {
			addFolder(ev.OldParentFolderID)
		}
		addFolder(ev.ParentFolderID)
	}

	if hierarchyChanged {
		result.HierarchyRefreshed = true
		if err := e.syncer.RefreshFolders(ctx); err != nil {
			tracing.TraceErr(span, err)
			e.onError(err)
		}
	}

	for _, id := range folderIDs {
		if !e.tree.Has(id) {
			if e.log != nil {
				e.log.Debugf("[%s] event for unknown folder %s ignored", tracing.AccountFromContext(ctx), id)
			}
			continue
		}
		result.UpdatedFolders = append(result.UpdatedFolders, id)
		if err := e.syncer.UpdateFolder(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			e.onError(err)
		}
	}
	return result
}

func validate(ev Event) error {
	switch {
	case ev.isItemEvent():
		if ev.ParentFolderID == "" {
			return &MalformedEventError{Event: ev, Reason: "item event without parent folder"}
		}
		if ev.Kind == MovedEvent && ev.OldParentFolderID == "" {
			return &MalformedEventError{Event: ev, Reason: "move without previous parent folder"}
		}
	case ev.FolderID == "":
		return &MalformedEventError{Event: ev, Reason: "neither item nor folder id"}
	}
	return nil
}
