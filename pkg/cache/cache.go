// Package cache persists the server list in a local SQLite database so that
// the daemon can serve it before the first refresh after a restart.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/polarisvpn/polaris-linux/pkg/serverlist"
)

// ErrEmpty is returned when no server list has been cached yet.
var ErrEmpty = errors.New("cache: no server list stored")

// Metadata keys.
const (
	metaUserTier       = "user_tier"
	metaListFetchedAt  = "list_fetched_at"
	metaLoadsFetchedAt = "loads_fetched_at"
)

type cachedServer struct {
	ID               string `gorm:"primaryKey;column:id"`
	Name             string
	ExitCountry      string
	EntryCountry     string
	City             string
	EntryIP          string `gorm:"column:entry_ip"`
	Load             int
	Score            float64
	Tier             int
	Features         int
	UnderMaintenance bool
}

func (cachedServer) TableName() string {
	return "servers"
}

type metadata struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string
}

func (metadata) TableName() string {
	return "metadata"
}

// Store is the SQLite-backed server list cache.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the cache database at path and applies pending
// schema migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap cache database: %w", err)
	}
	if err := runMigrations(sqlDB); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveServerList replaces the cached list with the given one.
func (s *Store) SaveServerList(list *serverlist.ServerList) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM servers`).Error; err != nil {
			return err
		}

		for _, srv := range list.Servers {
			row := cachedServer(srv)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		meta := map[string]string{
			metaUserTier:       strconv.Itoa(list.UserTier),
			metaListFetchedAt:  list.ListFetchedAt.UTC().Format(time.RFC3339Nano),
			metaLoadsFetchedAt: list.LoadsFetchedAt.UTC().Format(time.RFC3339Nano),
		}
		for key, value := range meta {
			row := metadata{Key: key, Value: value}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadServerList returns the cached list, or ErrEmpty when nothing has been
// cached yet.
func (s *Store) LoadServerList() (*serverlist.ServerList, error) {
	meta, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}
	listFetchedAt, ok := meta[metaListFetchedAt]
	if !ok {
		return nil, ErrEmpty
	}

	var rows []cachedServer
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load cached servers: %w", err)
	}

	servers := make([]serverlist.LogicalServer, 0, len(rows))
	for _, row := range rows {
		servers = append(servers, serverlist.LogicalServer(row))
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, listFetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached fetch time: %w", err)
	}
	tier, _ := strconv.Atoi(meta[metaUserTier])

	list := serverlist.New(servers, tier, fetchedAt)
	if raw, ok := meta[metaLoadsFetchedAt]; ok {
		if loadsAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			list.LoadsFetchedAt = loadsAt
		}
	}
	return list, nil
}

func (s *Store) loadMetadata() (map[string]string, error) {
	var rows []metadata
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load cache metadata: %w", err)
	}
	meta := make(map[string]string, len(rows))
	for _, row := range rows {
		meta[row.Key] = row.Value
	}
	return meta, nil
}
