// Package storage は認証情報（トークンと役割）の永続化を提供する。
// 保存されるのは2つの文字列キーのみで、プロセス再起動をまたいで復元される。
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/jobman/internal/model"
)

// CredentialStore は認証情報の永続化のインターフェース。
type CredentialStore interface {
	// Load は保存済みの認証情報を読み込む。
	// 未保存の場合は空のCredentialsを返す（エラーにしない）。
	Load() (model.Credentials, error)
	// Save は認証情報を永続化する。
	Save(creds model.Credentials) error
	// Clear は認証情報を原子的に削除する。ログアウト時に呼ばれる。
	Clear() error
}

// credentialsFile は保存ファイル名。
const credentialsFile = "credentials.json"

// FileStore はローカルファイルへのCredentialStore実装。
// 書き込みは一時ファイル + renameで原子的に行い、
// 読み取り側から部分書き込みが見えないようにする。
type FileStore struct {
	dir string
}

// NewFileStore はFileStoreを生成する。dirは設定のStateDir。
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Load は保存済みの認証情報を読み込む。
func (s *FileStore) Load() (model.Credentials, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return model.Credentials{}, nil
		}
		return model.Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds model.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		// 壊れたファイルは未保存として扱う。次のSaveで上書きされる。
		return model.Credentials{}, nil
	}
	return creds, nil
}

// Save は認証情報を原子的に書き込む。
// 認証トークンを含むためファイルは0600、ディレクトリは0700で作成する。
func (s *FileStore) Save(creds model.Credentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, credentialsFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit credentials: %w", err)
	}
	return nil
}

// Clear は認証情報ファイルを削除する。未保存の場合は成功扱い。
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, credentialsFile)
}

// MemStore はテスト用のインメモリCredentialStore実装。
type MemStore struct {
	mu    sync.Mutex
	creds model.Credentials
	saved bool

	// 注入可能な失敗。テストでエラー経路を再現するために使用する。
	LoadErr  error
	SaveErr  error
	ClearErr error
}

// NewMemStore はMemStoreを生成する。
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load は保持中の認証情報を返す。
func (s *MemStore) Load() (model.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return model.Credentials{}, s.LoadErr
	}
	if !s.saved {
		return model.Credentials{}, nil
	}
	return s.creds, nil
}

// Save は認証情報を保持する。
func (s *MemStore) Save(creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.creds = creds
	s.saved = true
	return nil
}

// Clear は保持中の認証情報を破棄する。
func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.creds = model.Credentials{}
	s.saved = false
	return nil
}

// Stored はテスト検証用に現在の保存状態を返す。
func (s *MemStore) Stored() (model.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.saved
}
