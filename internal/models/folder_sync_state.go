package models

import (
	"time"
)

// FolderSyncState records the last completed sync of one folder of an
// exchange account.
type FolderSyncState struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	AccountID  string    `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_folder_sync_account_folder;not null" json:"accountId"`
	FolderID   string    `gorm:"column:folder_id;type:varchar(512);uniqueIndex:idx_folder_sync_account_folder;not null" json:"folderId"`
	FolderName string    `gorm:"column:folder_name;type:varchar(255)" json:"folderName"`
	FolderPath string    `gorm:"column:folder_path;type:text" json:"folderPath"`
	Total      int       `gorm:"column:total;not null;default:0" json:"total"`
	Unread     int       `gorm:"column:unread;not null;default:0" json:"unread"`
	Messages   int       `gorm:"column:messages;not null;default:0" json:"messages"`
	LastSync   time.Time `gorm:"column:last_sync;type:timestamp;not null" json:"lastSync"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (FolderSyncState) TableName() string {
	return "folder_sync_states"
}
