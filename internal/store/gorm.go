package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"codewhisperer-proxy/internal/auth"
)

const (
	kindRegistration = "registration"
	kindToken        = "token"
)

type credentialRow struct {
	Kind      string `gorm:"primaryKey;size:32"`
	Payload   string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (credentialRow) TableName() string {
	return "credentials"
}

// GormStore keeps credentials as JSON payloads in a "credentials" table.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens a sqlite or postgres database. An empty sqlite dsn means
// credentials.db in the current directory.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver == "sqlite" {
			dsn = "credentials.db"
		} else {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
	}

	switch driver {
	case "sqlite":
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqliteDriver.Open(dsn), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// NewGormStore migrates the credentials table and returns a store over db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if err := db.AutoMigrate(&credentialRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate credentials: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) LoadRegistration(ctx context.Context) (*auth.Registration, error) {
	var reg auth.Registration
	if err := s.load(ctx, kindRegistration, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *GormStore) SaveRegistration(ctx context.Context, reg *auth.Registration) error {
	return s.save(ctx, kindRegistration, reg)
}

func (s *GormStore) LoadToken(ctx context.Context) (*auth.Token, error) {
	var tok auth.Token
	if err := s.load(ctx, kindToken, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *GormStore) SaveToken(ctx context.Context, tok *auth.Token) error {
	return s.save(ctx, kindToken, tok)
}

func (s *GormStore) DeleteToken(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("kind = ?", kindToken).Delete(&credentialRow{}).Error; err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *GormStore) load(ctx context.Context, kind string, v any) error {
	var row credentialRow
	err := s.db.WithContext(ctx).Where("kind = ?", kind).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.ErrCredentialNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(row.Payload), v); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

func (s *GormStore) save(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	row := credentialRow{Kind: kind, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	return nil
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	lower := strings.ToLower(raw)
	if raw == "" || lower == ":memory:" || strings.HasPrefix(lower, "file::memory:") {
		return "", false
	}
	if !strings.HasPrefix(lower, "file:") {
		return stripQuery(raw), true
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return stripQuery(strings.TrimPrefix(raw, "file:")), true
	}
	if strings.EqualFold(parsed.Query().Get("mode"), "memory") {
		return "", false
	}
	if parsed.Path != "" {
		return parsed.Path, true
	}
	if parsed.Opaque != "" {
		return stripQuery(strings.TrimPrefix(raw, "file:")), true
	}
	return "", false
}

func stripQuery(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}

// Open returns the store selected by driver: "file" (default) uses dir,
// "sqlite" and "postgres" use dsn.
func Open(driver, dsn, dir string) (auth.CredentialStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "file":
		return NewFileStore(dir), nil
	case "sqlite", "postgres":
		if strings.TrimSpace(dsn) == "" && strings.EqualFold(strings.TrimSpace(driver), "sqlite") {
			dsn = filepath.Join(dir, "credentials.db")
		}
		db, err := OpenGorm(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", driver, err)
		}
		gs, err := NewGormStore(db)
		if err != nil {
			return nil, err
		}
		return gs, nil
	default:
		return nil, fmt.Errorf("unsupported credential store %q", driver)
	}
}
