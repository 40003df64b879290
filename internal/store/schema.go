package store

import "context"

// schemaDDL documents the tables this package assumes already exist.
// Provisioning the schema is out of scope for the pipeline itself; the
// statements below back EnsureSchema, an optional bootstrap helper for
// local development and tests, kept inert in normal operation.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	path TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	status TEXT NOT NULL,
	transcript_path TEXT NOT NULL DEFAULT '',
	terminal_id INTEGER,
	shell_id TEXT,
	name TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	body TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	prompt_id TEXT NOT NULL REFERENCES prompts(id),
	uuid TEXT UNIQUE NOT NULL,
	body TEXT,
	thinking BOOLEAN NOT NULL DEFAULT false,
	"user" BOOLEAN NOT NULL DEFAULT false,
	tools JSONB,
	todo_id TEXT UNIQUE,
	state_key TEXT,
	images JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hooks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	fields JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cleans (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	id TEXT PRIMARY KEY,
	config JSONB NOT NULL DEFAULT '{}'
);
`

// EnsureSchema creates the tables above if they do not already exist. It is
// intended for local development and integration tests; production schema
// management is out of scope for this pipeline.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaDDL)
	return err
}
