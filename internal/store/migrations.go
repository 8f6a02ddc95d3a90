package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		namespace  TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		root_path  TEXT NOT NULL,
		goal       TEXT NOT NULL,
		phase      TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		progress   TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		closed_at  INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		namespace    TEXT NOT NULL REFERENCES projects(namespace),
		from_agent   TEXT NOT NULL,
		to_agent     TEXT NOT NULL,
		task_type    TEXT NOT NULL,
		payload      TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'pending',
		priority     INTEGER NOT NULL DEFAULT 5,
		attempt      INTEGER NOT NULL DEFAULT 1,
		result       TEXT,
		error        TEXT,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		started_at   INTEGER,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, to_agent, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_namespace ON tasks(namespace, created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		namespace    TEXT NOT NULL REFERENCES projects(namespace),
		file_path    TEXT NOT NULL,
		memory_type  TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		PRIMARY KEY (namespace, file_path)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(namespace, memory_type);
	CREATE INDEX IF NOT EXISTS idx_artifacts_updated ON artifacts(namespace, updated_at);

	CREATE TABLE IF NOT EXISTS artifact_history (
		namespace    TEXT NOT NULL,
		file_path    TEXT NOT NULL,
		version      INTEGER NOT NULL,
		memory_type  TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		PRIMARY KEY (namespace, file_path, version)
	);

	CREATE TABLE IF NOT EXISTS memory_records (
		id          TEXT PRIMARY KEY,
		namespace   TEXT NOT NULL REFERENCES projects(namespace),
		content     TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		file_path   TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memrec_recent ON memory_records(namespace, created_at);

	CREATE TABLE IF NOT EXISTS preferences (
		namespace  TEXT NOT NULL REFERENCES projects(namespace),
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);

	CREATE TABLE IF NOT EXISTS processed_events (
		event_id     TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL,
		processed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS escalations (
		id          TEXT PRIMARY KEY,
		namespace   TEXT NOT NULL,
		task_id     TEXT,
		reason      TEXT NOT NULL,
		details     TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		resolved_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_open ON escalations(namespace) WHERE resolved_at IS NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace  TEXT NOT NULL,
		actor      TEXT NOT NULL,
		action     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_namespace ON audit_log(namespace, created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}
