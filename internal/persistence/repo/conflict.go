package repo

import "gorm.io/gorm/clause"

// onConflictUpdateAll builds an upsert clause keyed on keyColumns that
// overwrites the full row, matching the teacher's idempotent-upsert
// shape in material_kg_build.go.
func onConflictUpdateAll(keyColumns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(keyColumns))
	for i, c := range keyColumns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}
