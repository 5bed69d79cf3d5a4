// Package store persists the OIDC registration and bearer token, either as
// JSON files in the config directory or as rows in a SQL database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"codewhisperer-proxy/internal/auth"
)

const (
	registrationFile = "registration.json"
	tokenFile        = "tokens.json"
)

// FileStore keeps each credential in its own JSON file. Writes replace the
// whole file.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory the files live in.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) LoadRegistration(context.Context) (*auth.Registration, error) {
	var reg auth.Registration
	if err := s.read(registrationFile, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *FileStore) SaveRegistration(_ context.Context, reg *auth.Registration) error {
	return s.write(registrationFile, reg)
}

func (s *FileStore) LoadToken(context.Context) (*auth.Token, error) {
	var tok auth.Token
	if err := s.read(tokenFile, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *FileStore) SaveToken(_ context.Context, tok *auth.Token) error {
	return s.write(tokenFile, tok)
}

func (s *FileStore) DeleteToken(context.Context) error {
	err := os.Remove(filepath.Join(s.dir, tokenFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", tokenFile, err)
	}
	return nil
}

func (s *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return auth.ErrCredentialNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) write(name string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	// Every writer gets its own temporary file. Only the rename touches the
	// real path.
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if err := writeAndClose(tmp, encoded); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temporary %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist %s: %w", name, err)
	}
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
