package store

import (
	"context"
)

// IntegrityReport summarises structural health checks over the hierarchy.
// Orphaned cluster groups are a warning, not an error: groups are allowed to
// exist before being linked to a parent.
type IntegrityReport struct {
	SelfReferences      []string `json:"self_references"`
	DanglingParents     []string `json:"dangling_parents"`
	DepthViolations     []string `json:"depth_violations"`
	MislabeledRoots     []string `json:"mislabeled_roots"`
	OrphanedGroups      []string `json:"orphaned_groups"`
	SelfReferenceCount  int      `json:"self_reference_count"`
	DanglingParentCount int      `json:"dangling_parent_count"`
	DepthViolationCount int      `json:"depth_violation_count"`
	MislabeledRootCount int      `json:"mislabeled_root_count"`
	OrphanedGroupCount  int      `json:"orphaned_group_count"`
}

// Healthy reports whether the scan found no hard violations. Orphaned
// groups do not count against health.
func (r IntegrityReport) Healthy() bool {
	return r.SelfReferenceCount == 0 && r.DanglingParentCount == 0 &&
		r.DepthViolationCount == 0 && r.MislabeledRootCount == 0
}

// ValidateIntegrity scans for structural violations: self-references,
// dangling parent ids, hierarchy depth over 2, and parents of manual cluster
// groups that are not manual roots. It runs off the write path; the write
// path prevents these states, so any hit indicates drift or external
// interference.
func (s *Store) ValidateIntegrity(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport

	queries := []struct {
		dest  *[]string
		check string
		query string
	}{
		{&report.SelfReferences, "self_reference", `
SELECT id FROM narratives WHERE parent_id = id
`},
		{&report.DanglingParents, "dangling_parent", `
SELECT n.id
FROM narratives n
LEFT JOIN narratives p ON p.id = n.parent_id
WHERE n.parent_id IS NOT NULL AND p.id IS NULL
`},
		{&report.DepthViolations, "depth_violation", `
SELECT n.id
FROM narratives n
JOIN narratives p ON p.id = n.parent_id
WHERE p.parent_id IS NOT NULL
`},
		{&report.MislabeledRoots, "mislabeled_root", `
SELECT DISTINCT g.parent_narrative_id
FROM manual_cluster_groups g
JOIN narratives n ON n.id = g.parent_narrative_id
WHERE n.curation_source <> 'manual' OR n.parent_id IS NOT NULL
`},
		{&report.OrphanedGroups, "orphaned_group", `
SELECT id FROM manual_cluster_groups WHERE parent_narrative_id IS NULL
`},
	}

	for _, q := range queries {
		ids, err := s.queryIDs(ctx, q.query)
		if err != nil {
			return IntegrityReport{}, err
		}
		*q.dest = ids
		if q.check != "orphaned_group" {
			recordIntegrityViolations(ctx, q.check, len(ids))
		}
	}
	report.SelfReferenceCount = len(report.SelfReferences)
	report.DanglingParentCount = len(report.DanglingParents)
	report.DepthViolationCount = len(report.DepthViolations)
	report.MislabeledRootCount = len(report.MislabeledRoots)
	report.OrphanedGroupCount = len(report.OrphanedGroups)
	return report, nil
}

func (s *Store) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
