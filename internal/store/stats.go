package store

import "os"

// Stats summarizes the relational store's size, for the admin CLI's doctor
// and backup paths.
type Stats struct {
	Path              string
	SchemaVersion     int
	ClaimCount        int
	ProvenanceCount   int
	RelationshipCount int
	EventCount        int
	FileSizeBytes     int64
}

// Stats returns row counts for the claims, provenance, relationships and
// event_log tables, and the backing file size.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{Path: s.db.path}

	if version, err := s.db.SchemaVersion(); err == nil {
		stats.SchemaVersion = version
	}

	s.db.QueryRow("SELECT COUNT(*) FROM claims").Scan(&stats.ClaimCount)
	s.db.QueryRow("SELECT COUNT(*) FROM provenance").Scan(&stats.ProvenanceCount)
	s.db.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&stats.RelationshipCount)
	s.db.QueryRow("SELECT COUNT(*) FROM event_log").Scan(&stats.EventCount)

	if info, err := os.Stat(s.db.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	return stats, nil
}
