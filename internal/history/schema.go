package history

// schemaVersion must be bumped whenever schemaSQL changes.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    name TEXT,
    mode TEXT NOT NULL,
    target TEXT,
    state TEXT NOT NULL,
    language TEXT,
    segments INTEGER NOT NULL DEFAULT 0,
    source_duration REAL NOT NULL DEFAULT 0,
    output_path TEXT,
    srt_path TEXT,
    container TEXT,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    frames INTEGER NOT NULL DEFAULT 0,
    error_kind TEXT,
    error_message TEXT,
    warnings_json TEXT,
    created_at TEXT NOT NULL,
    started_at TEXT,
    finished_at TEXT
);

CREATE INDEX idx_runs_created_at ON runs(created_at);
CREATE INDEX idx_runs_state ON runs(state);
`
