package model

type Installation struct {
	InstallationID      int64   `gorm:"column:installation_id;primaryKey"`
	AccountLogin        string  `gorm:"column:account_login;type:text;not null"`
	AccountType         string  `gorm:"column:account_type;type:text;not null"`
	TargetType          string  `gorm:"column:target_type;type:text;not null"`
	RepositorySelection string  `gorm:"column:repository_selection;type:text;not null;default:all"`
	PermissionsJSON     string  `gorm:"column:permissions_json;type:text;not null;default:'{}'"`
	EventsJSON          string  `gorm:"column:events_json;type:text;not null;default:'[]'"`
	SuspendedAt         *string `gorm:"column:suspended_at;type:text"`
	SuspendedBy         *string `gorm:"column:suspended_by;type:text"`
	EncryptedUserToken  *string `gorm:"column:encrypted_user_token;type:text"`
	CreatedAt           string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt           string  `gorm:"column:updated_at;type:text;not null"`
}

func (Installation) TableName() string {
	return "installations"
}
