// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package sqlite is the default embedded store.Store backend: a single
// SQLite file holding the files/vault_meta/client_sessions/tokens tables,
// via gorm, plus a blobs/ directory sharded by the file-ID's first two hex
// characters.
package sqlite

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sage-x-project/sage/pkg/store"
)

// Store implements store.Store over a gorm/SQLite database plus a
// sharded on-disk blob directory.
type Store struct {
	db       *gorm.DB
	blobRoot string

	// writeMu serializes the sequence-allocating mutations (PutFile,
	// DeleteFile) across all dispatcher goroutines sharing this Store.
	// SQLite itself would serialize these anyway, but the explicit mutex
	// keeps the invariant true even if the driver's locking semantics
	// change.
	writeMu sync.Mutex
}

// Open creates/migrates the database at dbPath and ensures blobRoot exists.
func Open(dbPath, blobRoot string) (*Store, error) {
	if err := os.MkdirAll(blobRoot, 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: blob root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: db dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if err := db.AutoMigrate(
		&store.FileRecord{},
		&store.VaultMeta{},
		&store.Token{},
		&store.ClientSession{},
	); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db, blobRoot: blobRoot}, nil
}

func (s *Store) ChangeLog() store.ChangeLog              { return (*changeLog)(s) }
func (s *Store) VaultMeta() store.VaultMetaStore          { return (*vaultMeta)(s) }
func (s *Store) Tokens() store.TokenStore                 { return (*tokenStore)(s) }
func (s *Store) ClientSessions() store.ClientSessionStore { return (*sessionStore)(s) }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) blobPath(fileID string) string {
	shard := fileID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.blobRoot, shard, fileID)
}

type changeLog Store

func (c *changeLog) store() *Store { return (*Store)(c) }

func (c *changeLog) PutFile(ctx context.Context, fileID, encryptedMeta string, mtime, size int64, blob []byte) (int64, error) {
	s := c.store()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur store.FileRecord
		if err := tx.Order("sequence desc").First(&cur).Error; err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		next = cur.Sequence + 1

		rec := store.FileRecord{
			FileID:        fileID,
			EncryptedMeta: encryptedMeta,
			Mtime:         mtime,
			Size:          size,
			Deleted:       false,
			Sequence:      next,
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite: put file: %w", err)
	}

	if blob != nil {
		path := s.blobPath(fileID)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return next, fmt.Errorf("sqlite: blob dir: %w", err)
		}
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			return next, fmt.Errorf("sqlite: blob write: %w", err)
		}
	}
	return next, nil
}

func (c *changeLog) DeleteFile(ctx context.Context, fileID string) (int64, error) {
	s := c.store()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur store.FileRecord
		if err := tx.Order("sequence desc").First(&cur).Error; err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		next = cur.Sequence + 1

		rec := store.FileRecord{FileID: fileID, Deleted: true, Sequence: next}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete file: %w", err)
	}

	_ = os.Remove(s.blobPath(fileID)) // the change-log row is authoritative
	return next, nil
}

func (c *changeLog) GetFileMeta(ctx context.Context, fileID string) (*store.FileRecord, error) {
	s := c.store()
	var rec store.FileRecord
	err := s.db.WithContext(ctx).First(&rec, "file_id = ?", fileID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *changeLog) GetBlob(ctx context.Context, fileID string) ([]byte, error) {
	s := c.store()
	data, err := os.ReadFile(s.blobPath(fileID))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	return data, err
}

func (c *changeLog) GetManifest(ctx context.Context) (*store.Manifest, error) {
	s := c.store()
	var entries []store.FileRecord
	if err := s.db.WithContext(ctx).Where("deleted = ?", false).Order("sequence asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	seq, err := c.GetCurrentSequence(ctx)
	if err != nil {
		return nil, err
	}
	return &store.Manifest{Entries: entries, Sequence: seq}, nil
}

func (c *changeLog) GetChangesSince(ctx context.Context, since int64) ([]store.FileRecord, error) {
	s := c.store()
	var out []store.FileRecord
	err := s.db.WithContext(ctx).Where("sequence > ?", since).Order("sequence asc").Find(&out).Error
	return out, err
}

func (c *changeLog) GetCurrentSequence(ctx context.Context) (int64, error) {
	s := c.store()
	var rec store.FileRecord
	err := s.db.WithContext(ctx).Order("sequence desc").First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Sequence, nil
}

func (c *changeLog) Stats(ctx context.Context) (*store.Stats, error) {
	s := c.store()
	var st store.Stats
	var err error
	st.Sequence, err = c.GetCurrentSequence(ctx)
	if err != nil {
		return nil, err
	}
	var entries []store.FileRecord
	if err := s.db.WithContext(ctx).Where("deleted = ?", false).Find(&entries).Error; err != nil {
		return nil, err
	}
	st.TotalFiles = int64(len(entries))
	for _, e := range entries {
		st.TotalSize += e.Size
	}
	return &st, nil
}

func (c *changeLog) Reset(ctx context.Context) error {
	s := c.store()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Exec("DELETE FROM file_records").Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM tokens").Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM client_sessions").Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM vault_metas").Error; err != nil {
		return err
	}
	return os.RemoveAll(s.blobRoot)
}

func (c *changeLog) Close() error { return c.store().Close() }

type vaultMeta Store

func (v *vaultMeta) store() *Store { return (*Store)(v) }

func (v *vaultMeta) row(ctx context.Context) (*store.VaultMeta, error) {
	s := v.store()
	var row store.VaultMeta
	err := s.db.WithContext(ctx).FirstOrCreate(&row, store.VaultMeta{ID: 1}).Error
	return &row, err
}

func (v *vaultMeta) GetOrCreateSalt(ctx context.Context) ([]byte, error) {
	row, err := v.row(ctx)
	if err != nil {
		return nil, err
	}
	if row.VaultSaltB64 == "" {
		salt := make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		row.VaultSaltB64 = encodeSalt(salt)
		if err := v.store().db.WithContext(ctx).Save(row).Error; err != nil {
			return nil, err
		}
		return salt, nil
	}
	return decodeSalt(row.VaultSaltB64)
}

func (v *vaultMeta) GetPasswordHash(ctx context.Context) (string, error) {
	row, err := v.row(ctx)
	if err != nil {
		return "", err
	}
	return row.PasswordHash, nil
}

func (v *vaultMeta) SetPasswordHash(ctx context.Context, hash string) error {
	row, err := v.row(ctx)
	if err != nil {
		return err
	}
	if row.PasswordHash != "" {
		return store.ErrAlreadyInitialized
	}
	row.PasswordHash = hash
	return v.store().db.WithContext(ctx).Save(row).Error
}

type tokenStore Store

func (t *tokenStore) store() *Store { return (*Store)(t) }

func (t *tokenStore) Create(ctx context.Context, tok *store.Token) error {
	return t.store().db.WithContext(ctx).Save(tok).Error
}

func (t *tokenStore) Get(ctx context.Context, token string) (*store.Token, error) {
	var tok store.Token
	err := t.store().db.WithContext(ctx).First(&tok, "token = ?", token).Error
	if err == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	return &tok, err
}

func (t *tokenStore) Touch(ctx context.Context, token string) error {
	return t.store().db.WithContext(ctx).Model(&store.Token{}).
		Where("token = ?", token).Update("last_used", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

func (t *tokenStore) DeleteByClientID(ctx context.Context, clientID string) error {
	return t.store().db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&store.Token{}).Error
}

type sessionStore Store

func (c *sessionStore) store() *Store { return (*Store)(c) }

func (c *sessionStore) Upsert(ctx context.Context, sess *store.ClientSession) error {
	return c.store().db.WithContext(ctx).Save(sess).Error
}

func (c *sessionStore) SetOnline(ctx context.Context, clientID string, online bool) error {
	return c.store().db.WithContext(ctx).Model(&store.ClientSession{}).
		Where("client_id = ?", clientID).Update("online", online).Error
}

func (c *sessionStore) List(ctx context.Context) ([]store.ClientSession, error) {
	var out []store.ClientSession
	err := c.store().db.WithContext(ctx).Order("first_seen asc").Find(&out).Error
	sort.SliceStable(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out, err
}
