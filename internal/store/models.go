package store

import "time"

// User is an account known to the platform. Only identity fields are read by
// the realtime layer; account management lives elsewhere.
type User struct {
	ID       string `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
	// No column default: GORM omits zero-valued fields that carry a
	// default tag on insert, which would silently turn inactive accounts
	// active on create.
	IsActive  bool `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project is a collaborative workspace.
type Project struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	OwnerID   string `gorm:"index;not null"`
	IsPublic  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectCollaborator grants a user access to a project they do not own.
type ProjectCollaborator struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"uniqueIndex:idx_project_user;not null"`
	UserID    string `gorm:"uniqueIndex:idx_project_user;not null"`
	CreatedAt time.Time
}

// TerminalSession is the persisted metadata of a terminal session. Rows stay
// behind as history after the session ends.
type TerminalSession struct {
	ID         string `gorm:"primaryKey"`
	TerminalID string `gorm:"uniqueIndex;not null"`
	ProjectID  string `gorm:"index;not null"`
	UserID     string `gorm:"index;not null"`
	Shell      string
	WorkingDir string
	Active     bool `gorm:"not null;default:true"`
	ExitCode   *int
	CreatedAt  time.Time
	ClosedAt   *time.Time
}
