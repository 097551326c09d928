// Package store persists users, projects, and terminal session metadata in
// SQLite via GORM. It implements the identity lookup, project access check,
// and terminal persistence hooks consumed by the realtime layer.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codehive/backend/internal/auth"
	"github.com/codehive/backend/internal/terminal"
)

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path != ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if err := db.AutoMigrate(&User{}, &Project{}, &ProjectCollaborator{}, &TerminalSession{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LookupIdentity resolves a user ID to an account. Implements
// auth.IdentityLookup; a missing user is (nil, nil).
func (s *Store) LookupIdentity(ctx context.Context, userID string) (*auth.Account, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return &auth.Account{
		ID:       user.ID,
		Username: user.Username,
		Active:   user.IsActive,
	}, nil
}

// CheckProjectAccess reports whether the user may enter the project: owner,
// collaborator, or any user on a public project.
func (s *Store) CheckProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	var project Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup project %s: %w", projectID, err)
	}

	if project.OwnerID == userID || project.IsPublic {
		return true, nil
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&ProjectCollaborator{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup collaborator: %w", err)
	}
	return count > 0, nil
}

// TerminalStarted persists a new terminal session record. Implements
// terminal.Recorder.
func (s *Store) TerminalStarted(ctx context.Context, rec terminal.Record) error {
	row := TerminalSession{
		ID:         uuid.NewString(),
		TerminalID: rec.TerminalID,
		ProjectID:  rec.ProjectID,
		UserID:     rec.UserID,
		Shell:      rec.Shell,
		WorkingDir: rec.WorkingDir,
		Active:     true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create terminal record: %w", err)
	}
	return nil
}

// TerminalExited marks the session's subprocess as having exited on its own.
func (s *Store) TerminalExited(ctx context.Context, terminalID string, exitCode int) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&TerminalSession{}).
		Where("terminal_id = ?", terminalID).
		Updates(map[string]interface{}{
			"active":    false,
			"exit_code": exitCode,
			"closed_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("record terminal exit: %w", err)
	}
	return nil
}

// TerminalClosed marks the session inactive after an explicit close or a
// disconnect cascade.
func (s *Store) TerminalClosed(ctx context.Context, terminalID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&TerminalSession{}).
		Where("terminal_id = ?", terminalID).
		Updates(map[string]interface{}{
			"active":    false,
			"closed_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("deactivate terminal record: %w", err)
	}
	return nil
}

// CreateUser inserts a user. Seeding and tests only; account CRUD lives in
// another service.
func (s *Store) CreateUser(ctx context.Context, id, username string, active bool) error {
	return s.db.WithContext(ctx).Create(&User{ID: id, Username: username, IsActive: active}).Error
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, id, name, ownerID string, public bool) error {
	return s.db.WithContext(ctx).Create(&Project{ID: id, Name: name, OwnerID: ownerID, IsPublic: public}).Error
}

// AddCollaborator grants a user access to a project.
func (s *Store) AddCollaborator(ctx context.Context, projectID, userID string) error {
	return s.db.WithContext(ctx).Create(&ProjectCollaborator{ProjectID: projectID, UserID: userID}).Error
}

// ActiveTerminals returns the persisted records still marked active.
func (s *Store) ActiveTerminals(ctx context.Context) ([]TerminalSession, error) {
	var rows []TerminalSession
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active terminals: %w", err)
	}
	return rows, nil
}
