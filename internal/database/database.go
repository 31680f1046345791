// Package database provides persistence for installed modules using BoltDB.
//
// The browser front-end keeps installed manifests in localStorage; the
// server keeps them here instead. A module's identity is its scriptUrl, so
// installing the same manifest twice overwrites the previous record.
package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	dbFileMode = 0600
	dbDirMode  = 0755

	defaultDBFile = "modules.db"
)

var modulesBucket = []byte("modules")

// StoredModule is a persisted module installation.
type StoredModule struct {
	ScriptURL  string    `json:"scriptUrl"`
	SourceName string    `json:"sourceName,omitempty"`
	Version    string    `json:"version,omitempty"`
	// Raw manifest JSON as installed, arbitrary metadata included.
	Manifest json.RawMessage `json:"manifest"`
	AddedAt  time.Time       `json:"addedAt"`
}

// Database defines the interface for module persistence operations.
type Database interface {
	// StoreModule inserts or replaces a module keyed by its scriptUrl
	StoreModule(mod *StoredModule) error
	// GetModule retrieves a module by scriptUrl; nil when absent
	GetModule(scriptURL string) (*StoredModule, error)
	// ListModules retrieves all installed modules
	ListModules() ([]StoredModule, error)
	// DeleteModule removes a module by scriptUrl
	DeleteModule(scriptURL string) error
	// Close closes the database
	Close() error
}

// BoltDB implements Database using bbolt.
type BoltDB struct {
	db *bolt.DB
}

// NewBolt opens (creating if needed) the module database at dbPath.
// An empty path uses the default file in the current directory.
func NewBolt(dbPath string) (*BoltDB, error) {
	if dbPath == "" {
		dbPath = filepath.Join(".", defaultDBFile)
	}

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, dbDirMode); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, dbFileMode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modulesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create modules bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// StoreModule inserts or replaces a module record.
func (b *BoltDB) StoreModule(mod *StoredModule) error {
	if mod.ScriptURL == "" {
		return fmt.Errorf("cannot store module without scriptUrl")
	}
	if mod.AddedAt.IsZero() {
		mod.AddedAt = time.Now()
	}

	data, err := json.Marshal(mod)
	if err != nil {
		return fmt.Errorf("failed to encode module: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modulesBucket).Put([]byte(mod.ScriptURL), data)
	})
}

// GetModule retrieves a module by its scriptUrl. Returns nil without error
// when the module is not installed.
func (b *BoltDB) GetModule(scriptURL string) (*StoredModule, error) {
	var mod *StoredModule
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(modulesBucket).Get([]byte(scriptURL))
		if data == nil {
			return nil
		}
		mod = &StoredModule{}
		return json.Unmarshal(data, mod)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", scriptURL, err)
	}
	return mod, nil
}

// ListModules retrieves all installed modules in key order.
func (b *BoltDB) ListModules() ([]StoredModule, error) {
	var mods []StoredModule
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(modulesBucket).ForEach(func(_, data []byte) error {
			var mod StoredModule
			if err := json.Unmarshal(data, &mod); err != nil {
				return err
			}
			mods = append(mods, mod)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	return mods, nil
}

// DeleteModule removes a module by scriptUrl. Deleting an absent module is
// not an error.
func (b *BoltDB) DeleteModule(scriptURL string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modulesBucket).Delete([]byte(scriptURL))
	})
}
