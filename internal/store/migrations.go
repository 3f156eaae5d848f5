package store

const schema = `
CREATE TABLE IF NOT EXISTS games (
    app_id       INTEGER PRIMARY KEY,
    title        TEXT NOT NULL,
    url          TEXT NOT NULL DEFAULT '',
    image        TEXT NOT NULL DEFAULT '',
    itad_id      TEXT,
    added_at     DATETIME NOT NULL,
    last_checked DATETIME
);

-- One row per game+store, overwritten each sync. State now, not history.
CREATE TABLE IF NOT EXISTS prices (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id        INTEGER NOT NULL REFERENCES games(app_id) ON DELETE CASCADE,
    store         TEXT NOT NULL,
    price_current REAL NOT NULL,
    price_regular REAL,
    currency      TEXT NOT NULL DEFAULT 'GBP',
    discount_pct  INTEGER NOT NULL DEFAULT 0,
    url           TEXT NOT NULL DEFAULT '',
    fetched_at    DATETIME NOT NULL,
    UNIQUE(app_id, store)
);

-- Append-only log. Never updated or pruned: historic lows are derived
-- from this table and pruning would silently corrupt them.
CREATE TABLE IF NOT EXISTS price_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id       INTEGER NOT NULL REFERENCES games(app_id) ON DELETE CASCADE,
    store        TEXT NOT NULL,
    price        REAL NOT NULL,
    currency     TEXT NOT NULL DEFAULT 'GBP',
    discount_pct INTEGER NOT NULL DEFAULT 0,
    recorded_at  DATETIME NOT NULL
);

-- Cached aggregate over price_history, monotonically non-increasing.
CREATE TABLE IF NOT EXISTS historic_lows (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id       INTEGER NOT NULL REFERENCES games(app_id) ON DELETE CASCADE,
    store        TEXT NOT NULL,
    price        REAL NOT NULL,
    currency     TEXT NOT NULL DEFAULT 'GBP',
    recorded_at  DATETIME,
    fetched_at   DATETIME NOT NULL,
    UNIQUE(app_id, store)
);

-- Bundle tier prices arrive in USD and are never converted; rediscovery
-- of the same (game, title) pair is a no-op.
CREATE TABLE IF NOT EXISTS bundles (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id        INTEGER NOT NULL REFERENCES games(app_id) ON DELETE CASCADE,
    bundle_title  TEXT NOT NULL,
    store         TEXT NOT NULL DEFAULT '',
    tier_price    REAL,
    currency      TEXT NOT NULL DEFAULT 'USD',
    url           TEXT NOT NULL DEFAULT '',
    expires_at    DATETIME,
    discovered_at DATETIME NOT NULL,
    UNIQUE(app_id, bundle_title)
);

CREATE INDEX IF NOT EXISTS idx_prices_app   ON prices(app_id);
CREATE INDEX IF NOT EXISTS idx_history_app  ON price_history(app_id);
CREATE INDEX IF NOT EXISTS idx_history_pair ON price_history(app_id, store);
CREATE INDEX IF NOT EXISTS idx_lows_app     ON historic_lows(app_id);
CREATE INDEX IF NOT EXISTS idx_bundles_app  ON bundles(app_id);
`
