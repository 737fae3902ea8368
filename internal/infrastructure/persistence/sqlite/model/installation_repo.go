package model

type InstallationRepo struct {
	InstallationID int64   `gorm:"column:installation_id;not null;primaryKey"`
	RepoID         int64   `gorm:"column:repo_id;not null;primaryKey"`
	Name           string  `gorm:"column:name;type:text;not null"`
	FullName       string  `gorm:"column:full_name;type:text;not null"`
	Owner          string  `gorm:"column:owner;type:text;not null"`
	Private        bool    `gorm:"column:private;not null;default:0"`
	HTMLURL        string  `gorm:"column:html_url;type:text;not null;default:''"`
	Description    string  `gorm:"column:description;type:text;not null;default:''"`
	RemovedAt      *string `gorm:"column:removed_at;type:text"`
	CreatedAt      string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt      string  `gorm:"column:updated_at;type:text;not null"`
}

func (InstallationRepo) TableName() string {
	return "installation_repos"
}
