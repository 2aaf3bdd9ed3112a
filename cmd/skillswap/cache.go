package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	skillswap "github.com/skillswap-app/skillswap-go"
)

// offerCache keeps the last successfully fetched offer list on disk so that
// search keeps working when the backend is unreachable.
type offerCache struct {
	db *sql.DB
}

// openOfferCache opens (or creates) the cache database in the config dir.
func openOfferCache() (*offerCache, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return openOfferCacheAt(filepath.Join(dir, "cache.db"))
}

func openOfferCacheAt(path string) (*offerCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open offer cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open offer cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &offerCache{db: db}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *offerCache) createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		payload TEXT NOT NULL,
		saved_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offers_position ON offers(position);
	`
	if _, err := c.db.Exec(tables); err != nil {
		return fmt.Errorf("cannot create cache tables: %w", err)
	}
	return nil
}

// SaveOffers replaces the cached snapshot with offers, keeping their order.
func (c *offerCache) SaveOffers(offers []skillswap.Offer) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM offers"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO offers (id, position, payload, saved_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, o := range offers {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("cannot encode offer %s: %w", o.ID, err)
		}
		if _, err := stmt.Exec(o.ID, i, string(payload), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadOffers returns the cached snapshot and when it was saved. An empty
// cache yields no offers and a zero time.
func (c *offerCache) LoadOffers() ([]skillswap.Offer, time.Time, error) {
	rows, err := c.db.Query("SELECT payload, saved_at FROM offers ORDER BY position")
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	offers := []skillswap.Offer{}
	var savedAt time.Time
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload, &savedAt); err != nil {
			return nil, time.Time{}, err
		}
		var o skillswap.Offer
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, time.Time{}, fmt.Errorf("corrupt cached offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, savedAt, rows.Err()
}

func (c *offerCache) Close() error {
	return c.db.Close()
}
