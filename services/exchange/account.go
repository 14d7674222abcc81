package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/enum"
	"github.com/customeros/exchangestack/internal/exchange/auth"
	"github.com/customeros/exchangestack/internal/exchange/folders"
	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/stream"
	"github.com/customeros/exchangestack/internal/exchange/transport"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/models"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/internal/utils"
)

var ErrMessageNotFound = errors.New("message not found")

// Account is one Exchange mailbox reached over EWS or OWA.
type Account interface {
	ID() string
	Protocol() enum.ExchangeProtocol
	Authenticator() auth.Authenticator
	Login(ctx context.Context, interactive bool) error
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	RefreshFolders(ctx context.Context) error
	Send(ctx context.Context, email *request.EMail) error
	ListFolders(ctx context.Context) ([]folders.FolderInfo, error)
	ListMessages(ctx context.Context, folderID string) ([]folders.Message, error)
	UpdateChangedMessages(ctx context.Context, folderID string) error
	DeleteMessages(ctx context.Context, folderID string, itemIDs ...string) error
	MarkRead(ctx context.Context, folderID, itemID string, read bool) error
	// Listen keeps the notification stream open until ctx is done or the
	// stream fails for good.
	Listen(ctx context.Context) error
	Status() interfaces.AccountStatus
}

type accountOptions struct {
	ID         string
	Client     *transport.Client
	Logger     logger.Logger
	SyncStates interfaces.FolderSyncRepository
	// MinBackoff spaces consecutive notification stream openings.
	MinBackoff time.Duration
	// StreamTimeout is the EWS GetStreamingEvents connection timeout in minutes.
	StreamTimeout int
	// Pacing delays handling of OWA notification units.
	Pacing  time.Duration
	OnEvent func(ctx context.Context, event interfaces.MailEvent)
}

// account holds what EWS and OWA accounts share: the folder tree, the
// reconciliation engine and the bookkeeping around them.
type account struct {
	id         string
	protocol   enum.ExchangeProtocol
	client     *transport.Client
	tree       *folders.Tree
	engine     *folders.Engine
	syncer     folders.Syncer
	log        logger.Logger
	syncStates interfaces.FolderSyncRepository
	minBackoff time.Duration
	onEvent    func(ctx context.Context, event interfaces.MailEvent)

	group singleflight.Group

	mu          sync.RWMutex
	loaded      map[string]bool
	lastError   string
	lastChecked time.Time
	channel     *stream.Channel
	stopListen  context.CancelFunc
}

func newAccount(opts accountOptions, protocol enum.ExchangeProtocol) *account {
	return &account{
		id:         opts.ID,
		protocol:   protocol,
		client:     opts.Client,
		tree:       folders.NewTree(func() string { return utils.GenerateNanoIDWithPrefix("msg", 16) }),
		log:        opts.Logger,
		syncStates: opts.SyncStates,
		minBackoff: opts.MinBackoff,
		onEvent:    opts.OnEvent,
		loaded:     make(map[string]bool),
	}
}

// bind wires the protocol half that performs fetches.
func (a *account) bind(syncer folders.Syncer) {
	a.syncer = syncer
	a.engine = folders.NewEngine(a.tree, syncer, a.reportError, a.log)
}

func (a *account) ID() string { return a.id }

func (a *account) Protocol() enum.ExchangeProtocol { return a.protocol }

func (a *account) Authenticator() auth.Authenticator { return a.client.Authenticator() }

func (a *account) IsLoggedIn() bool {
	return a.client.Authenticator() != nil && a.client.Authenticator().IsLoggedIn()
}

func (a *account) startSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	ctx = tracing.WithAccount(ctx, a.id)
	span, ctx := opentracing.StartSpanFromContext(ctx, operationName)
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagProtocol, a.protocol.String())
	return span, ctx
}

// Login authenticates and lists the folder hierarchy, which also proves the
// credential against the server.
func (a *account) Login(ctx context.Context, interactive bool) error {
	span, ctx := a.startSpan(ctx, "Account.Login")
	defer span.Finish()

	if err := a.client.Authenticator().Login(ctx, interactive); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := a.syncer.RefreshFolders(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	a.touch()
	a.log.Infof("[%s] logged in over %s, %d folders", a.id, a.protocol, a.tree.Len())
	return nil
}

// Logout stops listening and drops the credential. A stored OAuth2
// refresh token is forgotten as well.
func (a *account) Logout(ctx context.Context) error {
	span, _ := a.startSpan(ctx, "Account.Logout")
	defer span.Finish()

	a.mu.Lock()
	if a.stopListen != nil {
		a.stopListen()
		a.stopListen = nil
	}
	a.mu.Unlock()

	authenticator := a.client.Authenticator()
	authenticator.Reset()
	if o, ok := authenticator.(*auth.OAuth2); ok {
		if err := o.Forget(); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

func (a *account) ListFolders(ctx context.Context) ([]folders.FolderInfo, error) {
	if a.tree.Len() == 0 {
		if err := a.syncer.RefreshFolders(ctx); err != nil {
			return nil, err
		}
	}
	return a.tree.Snapshot(), nil
}

// ListMessages returns the messages of a folder, fetching them first when
// the folder was never synced in this process.
func (a *account) ListMessages(ctx context.Context, folderID string) ([]folders.Message, error) {
	if !a.tree.Has(folderID) {
		return nil, errors.Wrapf(folders.ErrFolderNotFound, "folder %s", folderID)
	}
	if !a.isLoaded(folderID) {
		if err := a.syncer.UpdateFolder(ctx, folderID); err != nil {
			return nil, err
		}
	}
	return a.tree.Messages(folderID)
}

func (a *account) UpdateChangedMessages(ctx context.Context, folderID string) error {
	if !a.tree.Has(folderID) {
		return errors.Wrapf(folders.ErrFolderNotFound, "folder %s", folderID)
	}
	return a.syncer.UpdateFolder(ctx, folderID)
}

// listen runs one notification channel over source until ctx is done or
// Logout stops it.
func (a *account) listen(ctx context.Context, source stream.Source) error {
	ctx, cancel := context.WithCancel(tracing.WithAccount(ctx, a.id))
	defer cancel()

	channel := stream.NewChannel(source, stream.Options{
		AccountID:  a.id,
		Protocol:   a.protocol.String(),
		MinBackoff: a.minBackoff,
		OnError:    a.reportError,
		Logger:     a.log,
	})
	a.mu.Lock()
	a.channel = channel
	a.stopListen = cancel
	a.mu.Unlock()

	return channel.Run(ctx)
}

func (a *account) Status() interfaces.AccountStatus {
	status := interfaces.AccountStatus{
		Protocol:  a.protocol,
		LoggedIn:  a.IsLoggedIn(),
		Streaming: stream.StateIdle.String(),
		Folders:   make(map[string]interfaces.FolderStats),
	}
	a.mu.RLock()
	if a.channel != nil {
		status.Streaming = a.channel.State().String()
	}
	status.LastError = a.lastError
	status.LastChecked = a.lastChecked
	a.mu.RUnlock()

	for _, f := range a.tree.Snapshot() {
		status.Folders[f.ID] = interfaces.FolderStats{
			Name:     f.Path,
			Total:    f.Total,
			Unread:   f.Unread,
			Messages: f.Messages,
			LastSync: f.LastSync,
		}
	}
	return status
}

func (a *account) reportError(err error) {
	if err == nil {
		return
	}
	accountErrorsTotal.WithLabelValues(a.protocol.String()).Inc()
	a.log.Errorf("[%s] %v", a.id, err)
	a.mu.Lock()
	a.lastError = err.Error()
	a.mu.Unlock()
}

func (a *account) touch() {
	a.mu.Lock()
	a.lastChecked = time.Now()
	a.lastError = ""
	a.mu.Unlock()
}

func (a *account) isLoaded(folderID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded[folderID]
}

// coalesce runs fn once for concurrent callers sharing key.
func (a *account) coalesce(key string, fn func() error) error {
	_, err, _ := a.group.Do(key, func() (any, error) {
		return nil, fn()
	})
	return err
}

// refreshFolders merges the listing returned by list into the tree.
// Concurrent refreshes share one listing.
func (a *account) refreshFolders(ctx context.Context, list func(ctx context.Context) (string, []folders.FolderEntry, error)) error {
	return a.coalesce("folders", func() error {
		rootID, entries, err := list(ctx)
		if err != nil {
			return err
		}
		if rootID != "" {
			a.tree.SetRootID(rootID)
		}
		result := a.tree.ApplyFolderListing(entries)
		a.log.Debugf("[%s] folder listing: %d created, %d updated, %d moved, %d skipped",
			a.id, result.Created, result.Updated, result.Moved, result.Skipped)
		if result.Created > 0 || result.Moved > 0 {
			a.emit(ctx, enum.MailEventFolders, "", nil, false)
		}
		return nil
	})
}

// storeMessage records m and emits new or updated.
func (a *account) storeMessage(ctx context.Context, m folders.Message, initial bool) error {
	stored, created, err := a.tree.UpsertMessage(m)
	if err != nil {
		return err
	}
	eventType := enum.MailEventUpdated
	if created {
		eventType = enum.MailEventNew
	}
	a.emit(ctx, eventType, stored.FolderID, &stored, initial)
	return nil
}

func (a *account) removeMessage(ctx context.Context, folderID, itemID string, initial bool) {
	m, _ := a.tree.Message(folderID, itemID)
	if !a.tree.RemoveMessage(folderID, itemID) {
		return
	}
	a.emit(ctx, enum.MailEventDeleted, folderID, &m, initial)
}

func (a *account) setRead(ctx context.Context, folderID, itemID string, read bool, initial bool) {
	if !a.tree.SetRead(folderID, itemID, read) {
		return
	}
	if m, ok := a.tree.Message(folderID, itemID); ok {
		a.emit(ctx, enum.MailEventUpdated, folderID, &m, initial)
	}
}

// finishFolderSync records the sync state reached for folderID and
// persists a summary of the folder.
func (a *account) finishFolderSync(ctx context.Context, folderID, syncState string) error {
	now := time.Now()
	if err := a.tree.MarkSynced(folderID, syncState, now); err != nil {
		return err
	}
	a.mu.Lock()
	a.loaded[folderID] = true
	a.mu.Unlock()
	a.touch()

	if a.syncStates == nil {
		return nil
	}
	info, ok := a.tree.Folder(folderID)
	if !ok {
		return nil
	}
	err := a.syncStates.SaveSyncState(ctx, &models.FolderSyncState{
		AccountID:  a.id,
		FolderID:   folderID,
		FolderName: info.Name,
		FolderPath: info.Path,
		Total:      info.Total,
		Unread:     info.Unread,
		Messages:   info.Messages,
		LastSync:   now,
	})
	if err != nil {
		a.log.Warnf("[%s][%s] could not save folder sync state: %v", a.id, info.Path, err)
	}
	return nil
}

func (a *account) emit(ctx context.Context, eventType enum.MailEventType, folderID string, m *folders.Message, initial bool) {
	mailEventsTotal.WithLabelValues(a.protocol.String(), eventType.String()).Inc()
	if a.onEvent == nil {
		return
	}
	event := interfaces.MailEvent{
		Source:      a.protocol.String(),
		AccountID:   a.id,
		FolderID:    folderID,
		EventType:   eventType,
		InitialSync: initial,
		Message:     m,
	}
	if m != nil {
		event.ItemID = m.ItemID
	}
	a.onEvent(ctx, event)
}
