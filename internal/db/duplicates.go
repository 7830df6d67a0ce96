package db

import "context"

// DuplicateGroup is a set of paths in one run that share a digest.
type DuplicateGroup struct {
	Digest string
	Size   int64
	Paths  []string
}

// DuplicateGroups returns groups of two or more files with the same digest in
// the run, largest files first.
func (s *Store) DuplicateGroups(ctx context.Context, runID string) ([]DuplicateGroup, error) {
	rows, err := s.query(ctx,
		`SELECT digest, size, path FROM records
		 WHERE run_id = ? AND digest IN (
			SELECT digest FROM records WHERE run_id = ? AND digest IS NOT NULL
			GROUP BY digest HAVING COUNT(*) > 1
		 )
		 ORDER BY size DESC, digest, path`,
		runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var digest, path string
		var size int64
		if err := rows.Scan(&digest, &size, &path); err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].Digest != digest {
			groups = append(groups, DuplicateGroup{Digest: digest, Size: size})
		}
		g := &groups[len(groups)-1]
		g.Paths = append(g.Paths, path)
	}
	return groups, rows.Err()
}
