package db

import "database/sql"

// MigrateUp creates the feed store schema if it does not exist.
// It is idempotent and safe to run on every startup.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS feeds (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT,
    link        TEXT,
    pub_date    TIMESTAMP,
    author      TEXT,
    created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS tags (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS feed_tags (
    feed_id TEXT,
    tag_id  INTEGER,
    PRIMARY KEY (feed_id, tag_id),
    FOREIGN KEY (feed_id) REFERENCES feeds(id),
    FOREIGN KEY (tag_id)  REFERENCES tags(id)
)`); err != nil {
		return err
	}

	// ORDER BY pub_date DESC is used by every list query.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_feeds_pub_date ON feeds(pub_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_tags_tag_id ON feed_tags(tag_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops the feed store schema.
// Use with caution: this deletes all data in the affected tables.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_feed_tags_tag_id`,
		`DROP INDEX IF EXISTS idx_feeds_pub_date`,
		`DROP TABLE IF EXISTS feed_tags`,
		`DROP TABLE IF EXISTS tags`,
		`DROP TABLE IF EXISTS feeds`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
