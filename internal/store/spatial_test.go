package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutdatedMonthsReadsCatalogDirectly(t *testing.T) {
	// Archived datasets lose their dataset_spatial row before the month
	// check runs; the query has to see them in agdc.dataset or their
	// months would never be regenerated.
	assert.Contains(t, outdatedMonthsQuery, "FROM agdc.dataset d")
	assert.NotContains(t, outdatedMonthsQuery, "dataset_spatial")
	assert.Contains(t, outdatedMonthsQuery, "d.added > $2 OR d.updated > $2")
}

func TestFootprintFallsBackToGrids(t *testing.T) {
	// EO3 documents may carry only grids, no top-level geometry.
	assert.Contains(t, footprintExpression, "d.metadata ? 'geometry'")
	assert.Contains(t, footprintExpression, "'grids' -> 'default' -> 'transform'")
	assert.Contains(t, footprintExpression, "st_makepolygon")
}

func TestFixedFieldComparesJSON(t *testing.T) {
	// Text comparison silently drops numeric properties (the document's
	// "30.0" never equals a rendered "30"); jsonb equality is numeric.
	assert.Contains(t, fixedFieldQuery, "-> $2 IS NOT DISTINCT FROM $3::jsonb")
	assert.NotContains(t, fixedFieldQuery, "->> $2")
}
