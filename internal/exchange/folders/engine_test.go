package folders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) RefreshFolders(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSyncer) UpdateFolder(ctx context.Context, folderID string) error {
	args := m.Called(ctx, folderID)
	return args.Error(0)
}

func engineWithFolders(t *testing.T, syncer Syncer, onError func(error)) *Engine {
	t.Helper()
	tree := newTestTree()
	tree.ApplyFolderListing([]FolderEntry{
		{ID: "inbox", ParentID: "ROOT", Name: "Inbox"},
		{ID: "archive", ParentID: "ROOT", Name: "Archive"},
		{ID: "sent", ParentID: "ROOT", Name: "Sent"},
	})
	return NewEngine(tree, syncer, onError, nil)
}

func TestApplyEvent_FetchesEachFolderOnce(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("UpdateFolder", mock.Anything, "inbox").Return(nil).Once()
	syncer.On("UpdateFolder", mock.Anything, "archive").Return(nil).Once()
	engine := engineWithFolders(t, syncer, nil)

	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: NewMailEvent, ItemID: "I1", ParentFolderID: "inbox"},
		{Kind: CreatedEvent, ItemID: "I1", ParentFolderID: "inbox"},
		{Kind: ModifiedEvent, ItemID: "I2", ParentFolderID: "inbox"},
		{Kind: MovedEvent, ItemID: "I3", ParentFolderID: "archive", OldParentFolderID: "inbox"},
	}})

	syncer.AssertExpectations(t)
	syncer.AssertNotCalled(t, "RefreshFolders", mock.Anything)
	assert.Equal(t, []string{"inbox", "archive"}, result.UpdatedFolders)
	assert.False(t, result.HierarchyRefreshed)
}

func TestApplyEvent_MoveFetchesOldParentFirst(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("UpdateFolder", mock.Anything, mock.Anything).Return(nil)
	engine := engineWithFolders(t, syncer, nil)

	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: MovedEvent, ItemID: "I1", ParentFolderID: "archive", OldParentFolderID: "sent"},
	}})

	assert.Equal(t, []string{"sent", "archive"}, result.UpdatedFolders)
}

func TestApplyEvent_FolderEventsRefreshHierarchyOnce(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("RefreshFolders", mock.Anything).Return(nil).Once()
	syncer.On("UpdateFolder", mock.Anything, "inbox").Return(nil).Once()
	engine := engineWithFolders(t, syncer, nil)

	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: CreatedEvent, FolderID: "F1", ParentFolderID: "ROOT"},
		{Kind: ModifiedEvent, FolderID: "F2", ParentFolderID: "ROOT"},
		{Kind: CreatedEvent, ItemID: "I1", ParentFolderID: "inbox"},
	}})

	syncer.AssertExpectations(t)
	assert.True(t, result.HierarchyRefreshed)
}

func TestApplyEvent_MalformedEventsAreReportedAndSkipped(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("UpdateFolder", mock.Anything, "inbox").Return(nil).Once()
	var reported []error
	engine := engineWithFolders(t, syncer, func(err error) { reported = append(reported, err) })

	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: CreatedEvent, ItemID: "I1"},
		{Kind: MovedEvent, ItemID: "I2", ParentFolderID: "archive"},
		{Kind: DeletedEvent},
		{Kind: NewMailEvent, ItemID: "I3", ParentFolderID: "inbox"},
	}})

	syncer.AssertExpectations(t)
	assert.Equal(t, 3, result.Malformed)
	require.Len(t, reported, 3)
	var malformed *MalformedEventError
	assert.True(t, errors.As(reported[0], &malformed))
	assert.Equal(t, CreatedEvent, malformed.Event.Kind)
}

func TestApplyEvent_UnknownFolderIsIgnored(t *testing.T) {
	syncer := new(MockSyncer)
	engine := engineWithFolders(t, syncer, nil)

	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: CreatedEvent, ItemID: "I1", ParentFolderID: "calendar"},
	}})

	syncer.AssertNotCalled(t, "UpdateFolder", mock.Anything, mock.Anything)
	assert.Empty(t, result.UpdatedFolders)
}

func TestApplyEvent_FetchFailureDoesNotStopBatch(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("UpdateFolder", mock.Anything, "inbox").Return(errors.New("boom")).Once()
	syncer.On("UpdateFolder", mock.Anything, "sent").Return(nil).Once()
	var reported []error
	engine := engineWithFolders(t, syncer, func(err error) { reported = append(reported, err) })

	engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: CreatedEvent, ItemID: "I1", ParentFolderID: "inbox"},
		{Kind: CreatedEvent, ItemID: "I2", ParentFolderID: "sent"},
	}})

	syncer.AssertExpectations(t)
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "boom")
}

func TestApplyEvent_ItemInFolderFromRefreshedListing(t *testing.T) {
	syncer := new(MockSyncer)
	engine := engineWithFolders(t, syncer, nil)
	listing := []FolderEntry{
		{ID: "inbox", ParentID: "ROOT", Name: "Inbox"},
		{ID: "NEW", ParentID: "ROOT", Name: "Projects"},
	}
	syncer.On("RefreshFolders", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		engine.ApplyFolderListing(listing)
	})
	syncer.On("UpdateFolder", mock.Anything, "NEW").Return(nil).Once()

	require.False(t, engine.Tree().Has("NEW"))
	result := engine.ApplyEvent(context.Background(), Notification{Events: []Event{
		{Kind: CreatedEvent, FolderID: "NEW", ParentFolderID: "ROOT"},
		{Kind: CreatedEvent, ItemID: "I1", ParentFolderID: "NEW"},
	}})

	assert.True(t, result.HierarchyRefreshed)
	assert.Equal(t, []string{"NEW"}, result.UpdatedFolders)
	syncer.AssertExpectations(t)

	size := engine.Tree().Len()
	engine.ApplyFolderListing(listing)
	assert.Equal(t, size, engine.Tree().Len())
}
