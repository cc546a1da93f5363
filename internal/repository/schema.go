package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, category)
);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    rule_type TEXT NOT NULL,
    method TEXT NOT NULL,
    parameters TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
    severity TEXT NOT NULL,
    auto_flag INTEGER NOT NULL DEFAULT 0,
    auto_block INTEGER NOT NULL DEFAULT 0,
    requires_manual_review INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(active, rule_type);
`

// schemaDetectionCases defines the detection case table.
// Everything but the review columns is written once.
const schemaDetectionCases = `
CREATE TABLE IF NOT EXISTS detection_cases (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    category TEXT NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    indicators TEXT NOT NULL,
    rules TEXT NOT NULL,
    decision TEXT NOT NULL,
    action_taken TEXT NOT NULL,
    requires_manual_review INTEGER NOT NULL DEFAULT 0,
    pending_override INTEGER NOT NULL DEFAULT 0,
    source_ip TEXT,
    occurred_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    reviewer_id TEXT,
    notes TEXT,
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_cases_status ON detection_cases(status, created_at);
CREATE INDEX IF NOT EXISTS idx_detection_cases_subject ON detection_cases(subject_id, created_at);
CREATE INDEX IF NOT EXISTS idx_detection_cases_source_ip ON detection_cases(source_ip, created_at);
`

const schemaIdentities = `
CREATE TABLE IF NOT EXISTS identities (
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (field, value, user_id)
);
`

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    fingerprint TEXT NOT NULL,
    user_id TEXT NOT NULL,
    seen_at TIMESTAMP NOT NULL,
    PRIMARY KEY (fingerprint, user_id)
);

CREATE INDEX IF NOT EXISTS idx_devices_seen ON devices(fingerprint, seen_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProfiles,
		schemaRules,
		schemaDetectionCases,
		schemaIdentities,
		schemaDevices,
	}
}
