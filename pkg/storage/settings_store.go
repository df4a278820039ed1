package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dougsko/fpvlinkd/pkg/logging"
	"github.com/dougsko/fpvlinkd/pkg/power"
	"github.com/dougsko/fpvlinkd/pkg/radio"
)

const (
	sideController = "controller"
	sideVehicle    = "vehicle"
)

// ControllerSettings are the process wide settings of the ground station
type ControllerSettings struct {
	PowerMode  string         `json:"power_mode"`
	FixedMw    map[string]int `json:"fixed_mw"`
	AutoPolicy string         `json:"auto_policy"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SettingsStore persists interface settings, vehicle mirror state and the
// command history in SQLite
type SettingsStore struct {
	db         *sql.DB
	dbPath     string
	maxHistory int
}

// NewSettingsStore opens or creates the settings database
func NewSettingsStore(dbPath string, maxHistory int) (*SettingsStore, error) {
	store := &SettingsStore{
		dbPath:     dbPath,
		maxHistory: maxHistory,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize settings store: %w", err)
	}

	return store, nil
}

func (s *SettingsStore) initialize() error {
	if s.dbPath == "" {
		s.dbPath = "./fpvlinkd.db"
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := s.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := s.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Info("storage", fmt.Sprintf("Settings store initialized: %s (max %d history entries)", s.dbPath, s.maxHistory))
	return nil
}

func (s *SettingsStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interfaces (
		side TEXT NOT NULL CHECK (side IN ('controller', 'vehicle')),
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'wifi',
		card INTEGER NOT NULL DEFAULT 0,
		flags INTEGER NOT NULL DEFAULT 0,
		bands INTEGER NOT NULL DEFAULT 0,
		raw_power INTEGER NOT NULL DEFAULT 0,
		booster TEXT NOT NULL DEFAULT 'none',
		tx_priority INTEGER NOT NULL DEFAULT 0,
		assigned_link INTEGER NOT NULL DEFAULT -1,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (side, id)
	);

	CREATE TABLE IF NOT EXISTS vehicle_links (
		id INTEGER PRIMARY KEY,
		flags INTEGER NOT NULL DEFAULT 0,
		bands INTEGER NOT NULL DEFAULT 0,
		frequency_khz INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS controller_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		request_id TEXT NOT NULL,
		target TEXT NOT NULL,
		kind TEXT NOT NULL,
		command_id INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_command_history_timestamp ON command_history(timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// LoadControllerInterfaceSettings returns the saved controller interfaces in
// registry order
func (s *SettingsStore) LoadControllerInterfaceSettings() ([]radio.Interface, error) {
	return s.loadInterfaces(sideController)
}

// SaveControllerInterfaceSettings replaces the saved controller interfaces
func (s *SettingsStore) SaveControllerInterfaceSettings(items []radio.Interface) error {
	return s.inTx(func(tx *sql.Tx) error {
		return saveInterfaces(tx, sideController, items)
	})
}

// LoadVehicleInterfaceSettings returns the mirrored vehicle interfaces
func (s *SettingsStore) LoadVehicleInterfaceSettings() ([]radio.Interface, error) {
	return s.loadInterfaces(sideVehicle)
}

// SaveVehicleState replaces the mirrored vehicle interfaces and links
func (s *SettingsStore) SaveVehicleState(items []radio.Interface, links []radio.Link) error {
	return s.inTx(func(tx *sql.Tx) error {
		if err := saveInterfaces(tx, sideVehicle, items); err != nil {
			return err
		}
		return saveLinks(tx, links)
	})
}

// LoadVehicleLinks returns the mirrored link descriptors in id order
func (s *SettingsStore) LoadVehicleLinks() ([]radio.Link, error) {
	rows, err := s.db.Query("SELECT id, flags, bands, frequency_khz FROM vehicle_links ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []radio.Link
	for rows.Next() {
		var l radio.Link
		var flags, bands int64
		if err := rows.Scan(&l.ID, &flags, &bands, &l.FrequencyKhz); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.Capabilities = radio.Capabilities(flags)
		l.Bands = radio.Bands(bands)
		links = append(links, l)
	}
	return links, rows.Err()
}

// LoadControllerSettings returns the saved controller settings. The boolean
// is false when nothing was saved yet.
func (s *SettingsStore) LoadControllerSettings() (ControllerSettings, bool, error) {
	rows, err := s.db.Query("SELECT key, value, updated_at FROM controller_settings")
	if err != nil {
		return ControllerSettings{}, false, fmt.Errorf("failed to query controller settings: %w", err)
	}
	defer rows.Close()

	settings := ControllerSettings{FixedMw: map[string]int{}}
	found := false
	for rows.Next() {
		var key, value string
		var updated time.Time
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return ControllerSettings{}, false, fmt.Errorf("failed to scan controller setting: %w", err)
		}
		found = true
		if updated.After(settings.UpdatedAt) {
			settings.UpdatedAt = updated
		}
		switch key {
		case "power_mode":
			settings.PowerMode = value
		case "auto_policy":
			settings.AutoPolicy = value
		case "fixed_mw":
			if err := json.Unmarshal([]byte(value), &settings.FixedMw); err != nil {
				return ControllerSettings{}, false, fmt.Errorf("invalid fixed_mw setting: %w", err)
			}
		}
	}
	return settings, found, rows.Err()
}

// SaveControllerSettings stores the controller settings
func (s *SettingsStore) SaveControllerSettings(settings ControllerSettings) error {
	fixed, err := json.Marshal(settings.FixedMw)
	if err != nil {
		return fmt.Errorf("failed to encode fixed_mw: %w", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		return saveSettings(tx, map[string]string{
			"power_mode":  settings.PowerMode,
			"auto_policy": settings.AutoPolicy,
			"fixed_mw":    string(fixed),
		})
	})
}

// Snapshot is the complete committed configuration
type Snapshot struct {
	Controller []radio.Interface
	Vehicle    []radio.Interface
	Links      []radio.Link
	Settings   ControllerSettings
}

// SaveSnapshot writes the whole committed configuration in one transaction
func (s *SettingsStore) SaveSnapshot(snap Snapshot) error {
	fixed, err := json.Marshal(snap.Settings.FixedMw)
	if err != nil {
		return fmt.Errorf("failed to encode fixed_mw: %w", err)
	}
	return s.inTx(func(tx *sql.Tx) error {
		if err := saveInterfaces(tx, sideController, snap.Controller); err != nil {
			return err
		}
		if err := saveInterfaces(tx, sideVehicle, snap.Vehicle); err != nil {
			return err
		}
		if err := saveLinks(tx, snap.Links); err != nil {
			return err
		}
		return saveSettings(tx, map[string]string{
			"power_mode":  snap.Settings.PowerMode,
			"auto_policy": snap.Settings.AutoPolicy,
			"fixed_mw":    string(fixed),
		})
	})
}

func (s *SettingsStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SettingsStore) loadInterfaces(side string) ([]radio.Interface, error) {
	query := `
		SELECT id, name, kind, card, flags, bands, raw_power, booster, tx_priority, assigned_link
		FROM interfaces
		WHERE side = ?
		ORDER BY position
	`
	rows, err := s.db.Query(query, side)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s interfaces: %w", side, err)
	}
	defer rows.Close()

	var items []radio.Interface
	for rows.Next() {
		var iface radio.Interface
		var kind, booster string
		var card int
		var flags, bands int64
		if err := rows.Scan(&iface.ID, &iface.Name, &kind, &card, &flags, &bands,
			&iface.RawPower, &booster, &iface.TxPriority, &iface.AssignedLink); err != nil {
			return nil, fmt.Errorf("failed to scan interface: %w", err)
		}
		if iface.Kind, err = radio.ParseKind(kind); err != nil {
			return nil, err
		}
		if iface.Booster, err = power.ParseBoosterKind(booster); err != nil {
			return nil, err
		}
		iface.Card = power.DecodeCardModel(card)
		iface.Capabilities = radio.Capabilities(flags)
		iface.Bands = radio.Bands(bands)
		items = append(items, iface)
	}
	return items, rows.Err()
}

func saveInterfaces(tx *sql.Tx, side string, items []radio.Interface) error {
	if _, err := tx.Exec("DELETE FROM interfaces WHERE side = ?", side); err != nil {
		return fmt.Errorf("failed to clear %s interfaces: %w", side, err)
	}
	query := `
		INSERT INTO interfaces (
			side, position, id, name, kind, card, flags, bands,
			raw_power, booster, tx_priority, assigned_link
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, iface := range items {
		if _, err := tx.Exec(query,
			side, i, iface.ID, iface.Name, iface.Kind.String(), iface.Card.Code(),
			int64(iface.Capabilities), int64(iface.Bands), iface.RawPower,
			iface.Booster.String(), iface.TxPriority, iface.AssignedLink,
		); err != nil {
			return fmt.Errorf("failed to save interface %s: %w", iface.ID, err)
		}
	}
	return nil
}

func saveLinks(tx *sql.Tx, links []radio.Link) error {
	if _, err := tx.Exec("DELETE FROM vehicle_links"); err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}
	for _, l := range links {
		if _, err := tx.Exec("INSERT INTO vehicle_links (id, flags, bands, frequency_khz) VALUES (?, ?, ?, ?)",
			l.ID, int64(l.Capabilities), int64(l.Bands), l.FrequencyKhz); err != nil {
			return fmt.Errorf("failed to save link %d: %w", l.ID, err)
		}
	}
	return nil
}

func saveSettings(tx *sql.Tx, values map[string]string) error {
	query := `
		INSERT INTO controller_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`
	for key, value := range values {
		if _, err := tx.Exec(query, key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SettingsStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
