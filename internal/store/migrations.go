package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	mailbox_id  TEXT NOT NULL,
	unique_id   TEXT NOT NULL,
	notified_at DATETIME NOT NULL,
	PRIMARY KEY (mailbox_id, unique_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	mailbox_id     TEXT PRIMARY KEY,
	reference_id   TEXT NOT NULL,
	reference_time DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_notified_at
	ON fingerprints(mailbox_id, notified_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS deliveries (
	id               TEXT PRIMARY KEY,
	mailbox_id       TEXT NOT NULL,
	unique_id        TEXT NOT NULL,
	sender           TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	attachment_count INTEGER NOT NULL DEFAULT 0,
	notified_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_notified_at ON deliveries(notified_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_mailbox ON deliveries(mailbox_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
