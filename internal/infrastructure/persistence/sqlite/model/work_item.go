package model

type WorkItem struct {
	WorkItemID      uint64  `gorm:"column:work_item_id;primaryKey;autoIncrement"`
	RepoID          int64   `gorm:"column:repo_id;not null"`
	IssueID         int64   `gorm:"column:issue_id;not null;uniqueIndex"`
	IssueNumber     int     `gorm:"column:issue_number;not null"`
	RepoOwner       string  `gorm:"column:repo_owner;type:text;not null"`
	RepoName        string  `gorm:"column:repo_name;type:text;not null"`
	InstallationID  *int64  `gorm:"column:installation_id"`
	FlaggedForRetry bool    `gorm:"column:flagged_for_retry;not null;default:0"`
	RetryCount      int     `gorm:"column:retry_count;not null;default:0"`
	LastRetryAt     *string `gorm:"column:last_retry_at;type:text"`
	CreatedAt       string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt       string  `gorm:"column:updated_at;type:text;not null"`
}

func (WorkItem) TableName() string {
	return "work_items"
}
