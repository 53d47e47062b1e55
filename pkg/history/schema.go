package history

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL,
	location    TEXT NOT NULL,
	workload    TEXT NOT NULL,
	block_order TEXT NOT NULL,
	engine      TEXT NOT NULL,
	num_blocks  INTEGER NOT NULL,
	block_size  INTEGER NOT NULL,
	num_samples INTEGER NOT NULL,
	workers     INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL DEFAULT 0,
	device      TEXT NOT NULL DEFAULT '',
	document    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);

CREATE TABLE IF NOT EXISTS operations (
	run_id         TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	direction      TEXT NOT NULL,
	bw_avg         REAL NOT NULL,
	bw_min         REAL NOT NULL,
	bw_max         REAL NOT NULL,
	latency_avg_ms REAL NOT NULL,
	iops           INTEGER NOT NULL,
	samples        INTEGER NOT NULL,
	PRIMARY KEY (run_id, direction)
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
