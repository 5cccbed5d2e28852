package storage

const schema = `
-- The 'items' table stores the memory-game symbols collected from item-set sources.
CREATE TABLE IF NOT EXISTS items (
    hash TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    emoji TEXT NOT NULL DEFAULT '',
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

-- The 'sources' table tracks where item sets come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- 'local' or 'git'
    last_scanned DATETIME
);

-- Single-row cache of the reminder configuration.
CREATE TABLE IF NOT EXISTS reminder_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    preferred_time TEXT,  -- HH:MM
    suggested_time TEXT,  -- HH:MM
    last_fired_at DATETIME
);

-- Completed memory-game sessions.
CREATE TABLE IF NOT EXISTS game_sessions (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    completed_at DATETIME NOT NULL,
    pairs INTEGER NOT NULL,
    attempts INTEGER NOT NULL
);
`
