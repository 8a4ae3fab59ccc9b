// Package playerstate persists the playback settings (mode, rate, volume)
// so they survive restarts.
package playerstate

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"go.etcd.io/bbolt"

	"fknsrs.biz/p/bilifm/internal/player"
)

var (
	bucketName  = []byte("player")
	settingsKey = []byte("settings")
)

type Storage struct {
	db *bbolt.DB
}

var _ player.SettingsStore = (*Storage)(nil)

func New(db *bbolt.DB) *Storage {
	return &Storage{db: db}
}

// LoadSettings returns nil with no error when nothing has been saved yet.
func (s *Storage) LoadSettings() (*player.Settings, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("playerstate.Storage.LoadSettings: %w", err)
	}
	defer tx.Rollback()

	b := tx.Bucket(bucketName)
	if b == nil {
		return nil, nil
	}

	d := b.Get(settingsKey)
	if d == nil {
		return nil, nil
	}

	var settings player.Settings
	if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&settings); err != nil {
		return nil, fmt.Errorf("playerstate.Storage.LoadSettings: %w", err)
	}

	return &settings, nil
}

func (s *Storage) SaveSettings(settings *player.Settings) error {
	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(settings); err != nil {
		return fmt.Errorf("playerstate.Storage.SaveSettings: %w", err)
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("playerstate.Storage.SaveSettings: %w", err)
	}
	defer tx.Rollback()

	b, err := tx.CreateBucketIfNotExists(bucketName)
	if err != nil {
		return fmt.Errorf("playerstate.Storage.SaveSettings: %w", err)
	}

	if err := b.Put(settingsKey, buf.Bytes()); err != nil {
		return fmt.Errorf("playerstate.Storage.SaveSettings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("playerstate.Storage.SaveSettings: %w", err)
	}

	return nil
}
