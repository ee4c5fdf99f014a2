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

CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL UNIQUE,
	auth_method TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS secrets (
	account_id  TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
	enc_payload TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rules (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	priority    INTEGER NOT NULL DEFAULT 50,
	conditions  TEXT NOT NULL DEFAULT '[]',
	action      TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id);

CREATE TABLE IF NOT EXISTS emails (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL,
	from_addr   TEXT NOT NULL DEFAULT '',
	to_addr     TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	confidence  INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	received_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(account_id);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);
CREATE INDEX IF NOT EXISTS idx_emails_expires ON emails(expires_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS uq_emails_account_message
	ON emails(account_id, message_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE emails ADD COLUMN ai_category TEXT;
ALTER TABLE emails ADD COLUMN ai_confidence REAL;
ALTER TABLE emails ADD COLUMN ai_summary TEXT;
ALTER TABLE emails ADD COLUMN ai_model TEXT;
ALTER TABLE emails ADD COLUMN matched_rule TEXT;

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
