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
		Name:    "create trace runs and records",
		SQL: `
			CREATE TABLE trace_runs (
				id          TEXT PRIMARY KEY,
				plugins     TEXT NOT NULL DEFAULT '',
				started_at  TEXT NOT NULL DEFAULT (datetime('now')),
				finished_at TEXT
			);

			CREATE TABLE trace_records (
				id      INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id  TEXT NOT NULL,
				seq     INTEGER NOT NULL,
				phase   TEXT NOT NULL,
				hook    TEXT NOT NULL,
				args    TEXT NOT NULL DEFAULT '',
				result  TEXT NOT NULL DEFAULT '',
				at      TEXT NOT NULL,
				FOREIGN KEY (run_id) REFERENCES trace_runs(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_trace_records_run ON trace_records (run_id, seq);
			CREATE INDEX idx_trace_records_hook ON trace_records (run_id, hook);
		`,
	},
	{
		Version: 2,
		Name:    "create trace record FTS5 index",
		SQL: `
			CREATE VIRTUAL TABLE trace_fts USING fts5(
				hook,
				args,
				result,
				content='trace_records',
				content_rowid='id'
			);

			CREATE TRIGGER trace_ai AFTER INSERT ON trace_records BEGIN
				INSERT INTO trace_fts(rowid, hook, args, result)
				VALUES (new.id, new.hook, new.args, new.result);
			END;

			CREATE TRIGGER trace_ad AFTER DELETE ON trace_records BEGIN
				INSERT INTO trace_fts(trace_fts, rowid, hook, args, result)
				VALUES ('delete', old.id, old.hook, old.args, old.result);
			END;
		`,
	},
}
