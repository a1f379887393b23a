package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create threads and items",
		SQL: `
			CREATE TABLE threads (
				id          TEXT PRIMARY KEY,
				owner_id    TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_threads_owner ON threads (owner_id, created_at);

			CREATE TABLE items (
				id          TEXT PRIMARY KEY,
				thread_id   TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
				owner_id    TEXT NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_items_thread ON items (thread_id);
		`,
	},
	{
		Version: 2,
		Name:    "create tasks",
		SQL: `
			CREATE TABLE tasks (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id     TEXT NOT NULL,
				title        TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				completed    INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_tasks_owner ON tasks (owner_id, created_at);
		`,
	},
}
