package postgres

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	sequence_number            BIGINT PRIMARY KEY,
	checkpoint_digest          TEXT NOT NULL,
	previous_checkpoint_digest TEXT,
	epoch                      BIGINT NOT NULL,
	timestamp_ms               BIGINT NOT NULL,
	network_total_transactions BIGINT NOT NULL,
	end_of_epoch               BOOLEAN NOT NULL DEFAULT FALSE,
	committed_at               TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	tx_sequence_number         BIGINT PRIMARY KEY,
	transaction_digest         TEXT NOT NULL,
	checkpoint_sequence_number BIGINT NOT NULL,
	timestamp_ms               BIGINT NOT NULL,
	sender                     TEXT NOT NULL,
	success                    BOOLEAN NOT NULL,
	gas_used                   BIGINT NOT NULL,
	raw_transaction            BYTEA
);
CREATE INDEX IF NOT EXISTS transactions_checkpoint ON transactions (checkpoint_sequence_number);

CREATE TABLE IF NOT EXISTS tx_indices (
	tx_sequence_number         BIGINT PRIMARY KEY,
	transaction_digest         TEXT NOT NULL,
	checkpoint_sequence_number BIGINT NOT NULL,
	input_objects              TEXT[] NOT NULL,
	changed_objects            TEXT[] NOT NULL,
	senders                    TEXT[] NOT NULL,
	recipients                 TEXT[] NOT NULL,
	packages                   TEXT[] NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	tx_sequence_number         BIGINT NOT NULL,
	event_sequence_number      BIGINT NOT NULL,
	checkpoint_sequence_number BIGINT NOT NULL,
	package                    TEXT NOT NULL,
	module                     TEXT NOT NULL,
	event_type                 TEXT NOT NULL,
	sender                     TEXT NOT NULL,
	contents                   BYTEA,
	PRIMARY KEY (tx_sequence_number, event_sequence_number)
);

CREATE TABLE IF NOT EXISTS display (
	object_type TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	version     BIGINT NOT NULL,
	fields      BYTEA
);

CREATE TABLE IF NOT EXISTS packages (
	package_id                 TEXT PRIMARY KEY,
	version                    BIGINT NOT NULL,
	checkpoint_sequence_number BIGINT NOT NULL,
	module_bytes               BYTEA
);

CREATE TABLE IF NOT EXISTS objects (
	object_id                  TEXT PRIMARY KEY,
	object_version             BIGINT NOT NULL,
	checkpoint_sequence_number BIGINT NOT NULL,
	deleted                    BOOLEAN NOT NULL,
	object_type                TEXT,
	owner                      TEXT,
	contents                   BYTEA
);

CREATE TABLE IF NOT EXISTS epochs (
	epoch                    BIGINT PRIMARY KEY,
	first_checkpoint_id      BIGINT NOT NULL,
	epoch_start_timestamp    BIGINT NOT NULL,
	reference_gas_price      BIGINT NOT NULL,
	protocol_version         BIGINT NOT NULL,
	last_checkpoint_id       BIGINT,
	epoch_end_timestamp      BIGINT,
	epoch_total_transactions BIGINT
);
`
