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
	addr_lower     TEXT PRIMARY KEY,
	addr           TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
	prefer_encrypt TEXT NOT NULL DEFAULT 'nopreference'
		CHECK(prefer_encrypt IN ('nopreference', 'mutual')),
	public_key     BLOB,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS peers (
	addr_lower          TEXT PRIMARY KEY,
	addr                TEXT NOT NULL,
	public_key          BLOB,
	prefer_encrypt      TEXT NOT NULL DEFAULT 'nopreference'
		CHECK(prefer_encrypt IN ('nopreference', 'mutual')),
	last_seen           DATETIME NOT NULL,
	autocrypt_timestamp DATETIME NOT NULL,
	gossip_key          BLOB,
	gossip_timestamp    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	account_addr TEXT NOT NULL REFERENCES accounts(addr_lower) ON DELETE CASCADE,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_addr, name)
);

CREATE TABLE IF NOT EXISTS profile_peers (
	profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	peer_addr  TEXT NOT NULL REFERENCES peers(addr_lower) ON DELETE CASCADE,
	PRIMARY KEY (profile_id, peer_addr)
);

CREATE INDEX IF NOT EXISTS idx_profile_peers_peer ON profile_peers(peer_addr);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS emails (
	id             TEXT PRIMARY KEY,
	date           DATETIME NOT NULL,
	subject        TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	sender_addr    TEXT NOT NULL,
	recipients     TEXT NOT NULL DEFAULT '[]',
	message_id     TEXT NOT NULL DEFAULT '',
	encrypted      TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'sent', 'failed')),
	delivery_error TEXT NOT NULL DEFAULT '',
	sent_at        DATETIME,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_addr);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
