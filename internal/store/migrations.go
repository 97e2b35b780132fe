package store

const schema = `
CREATE TABLE IF NOT EXISTS channels (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    handle               TEXT NOT NULL UNIQUE,
    title                TEXT NOT NULL DEFAULT '',
    invite_token         TEXT,
    category             TEXT,
    platform_id          INTEGER,
    previous_platform_id INTEGER,
    is_active            BOOLEAN NOT NULL DEFAULT 1,
    is_member            BOOLEAN NOT NULL DEFAULT 0,
    added_by             INTEGER,
    added_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channels_flags ON channels(is_active, is_member);
CREATE INDEX IF NOT EXISTS idx_channels_category ON channels(category);

CREATE TABLE IF NOT EXISTS channel_stats (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id      INTEGER NOT NULL REFERENCES channels(id),
    recorded_at     DATETIME NOT NULL,
    member_count    INTEGER NOT NULL DEFAULT 0,
    views_count     INTEGER NOT NULL DEFAULT 0,
    posts_count     INTEGER NOT NULL DEFAULT 0,
    member_change   INTEGER NOT NULL DEFAULT 0,
    views_change    INTEGER NOT NULL DEFAULT 0,
    posts_change    INTEGER NOT NULL DEFAULT 0,
    positive_change BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_stats_channel_recorded ON channel_stats(channel_id, recorded_at);

CREATE TABLE IF NOT EXISTS categories (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS admins (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id  INTEGER NOT NULL UNIQUE,
    username TEXT NOT NULL DEFAULT '',
    added_at DATETIME NOT NULL
);
`
