package store

// SchemaVersion is the current schema version recorded in schema_info.
const SchemaVersion = 1

// coreSchema contains the complete table set: claims, provenance,
// relationships, confidence_cache, event_log, schema_info. Each claim's
// embedding is also kept here (claims.embedding); the sidecar file behind
// vector.Index is the searchable copy and is rebuilt from that column.
const coreSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- =============================================================================
-- CLAIMS TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	predicate TEXT NOT NULL,
	object TEXT NOT NULL,
	raw_expression TEXT NOT NULL,
	embedding BLOB,
	base_lo REAL NOT NULL CHECK (base_lo >= 0.0 AND base_lo <= 1.0),
	base_hi REAL NOT NULL CHECK (base_hi >= 0.0 AND base_hi <= 1.0 AND base_hi >= base_lo),
	namespace TEXT NOT NULL,
	tier TEXT NOT NULL CHECK (tier IN ('ephemeral', 'task', 'project', 'permanent')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'challenged', 'deprecated', 'forgotten')),
	created_at DATETIME NOT NULL,
	last_accessed DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_modified DATETIME NOT NULL,
	staleness_at DATETIME NOT NULL,
	ttl_seconds INTEGER,
	valid_from DATETIME,
	valid_until DATETIME,
	processing_owner TEXT,
	processing_flag_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_claims_namespace ON claims(namespace);
CREATE INDEX IF NOT EXISTS idx_claims_tier ON claims(tier);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_claims_subject_predicate ON claims(subject, predicate);
CREATE INDEX IF NOT EXISTS idx_claims_namespace_subject_predicate ON claims(namespace, subject, predicate);
CREATE INDEX IF NOT EXISTS idx_claims_staleness_at ON claims(staleness_at);
CREATE INDEX IF NOT EXISTS idx_claims_status_tier ON claims(status, tier);
CREATE INDEX IF NOT EXISTS idx_claims_processing_flag_at ON claims(processing_flag_at);

-- =============================================================================
-- PROVENANCE TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS provenance (
	id TEXT PRIMARY KEY,
	claim_id TEXT NOT NULL,
	source_type TEXT NOT NULL CHECK (
		source_type IN ('extraction', 'agent_assertion', 'user_input', 'inference', 'corroboration', 'direct_load', 'gatekeeper_reasoning')
	),
	source_id TEXT,
	timestamp DATETIME NOT NULL,
	confidence_contribution REAL NOT NULL CHECK (confidence_contribution >= 0.0 AND confidence_contribution <= 1.0),
	context TEXT,
	FOREIGN KEY (claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_provenance_claim_id ON provenance(claim_id);
CREATE INDEX IF NOT EXISTS idx_provenance_source_type ON provenance(source_type);

-- =============================================================================
-- RELATIONSHIPS TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	source_claim_id TEXT NOT NULL,
	target_claim_id TEXT NOT NULL,
	relation_type TEXT NOT NULL CHECK (
		relation_type IN ('supports', 'contradicts', 'refines', 'supersedes', 'derived_from', 'related_to')
	),
	strength REAL NOT NULL CHECK (strength >= 0.0 AND strength <= 1.0),
	created_at DATETIME NOT NULL,
	FOREIGN KEY (source_claim_id) REFERENCES claims(id) ON DELETE CASCADE,
	FOREIGN KEY (target_claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_claim_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_claim_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relation_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_unique ON relationships(source_claim_id, target_claim_id, relation_type);

-- =============================================================================
-- CONFIDENCE CACHE TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS confidence_cache (
	claim_id TEXT PRIMARY KEY,
	eff_lo REAL NOT NULL,
	eff_hi REAL NOT NULL,
	computed_at DATETIME NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

-- =============================================================================
-- EVENT LOG TABLE
-- =============================================================================
CREATE TABLE IF NOT EXISTS event_log (
	id TEXT PRIMARY KEY,
	claim_id TEXT,
	event_type TEXT NOT NULL,
	actor_id TEXT,
	timestamp DATETIME NOT NULL,
	payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_event_log_claim_id ON event_log(claim_id);
CREATE INDEX IF NOT EXISTS idx_event_log_timestamp ON event_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_event_log_event_type ON event_log(event_type);
`
