package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// User is the row the relay maintains in the shared users table. Columns
// other than status and last_seen belong to the REST layer.
type User struct {
	ID        string     `gorm:"primarykey;size:64"`
	Status    string     `gorm:"size:16;not null;default:offline"`
	LastSeen  *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

type Gorm struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*Gorm, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users: %w", err)
	}
	return &Gorm{db: db}, nil
}

// UpdateUserStatus upserts the row of id. A nil lastSeen stores NULL.
func (g *Gorm) UpdateUserStatus(ctx context.Context, id domain.UserID, status domain.Status, lastSeen *time.Time) error {
	row := User{ID: string(id), Status: string(status)}
	if lastSeen != nil {
		t := lastSeen.UTC()
		row.LastSeen = &t
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to update status of %q: %w", id, err)
	}
	return nil
}

func (g *Gorm) GetUserStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error) {
	var row User
	if err := g.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserStatus{}, domain.ErrUserNotFound
		}
		return domain.UserStatus{}, fmt.Errorf("failed to find user %q: %w", id, err)
	}
	st := domain.UserStatus{ID: domain.UserID(row.ID), Status: domain.Status(row.Status)}
	if row.LastSeen != nil {
		t := row.LastSeen.UTC()
		st.LastSeen = &t
	}
	return st, nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
