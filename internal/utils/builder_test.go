package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	query, args, err := NewQueryBuilder("public").
		Select("job_id", "task_id").
		From("tasks").
		Where("state = ?", "TODO").
		OrGroup(func(qb QueryBuilder) {
			qb.Where("state = ?", "DISPATCHED").And("node_id = ?", "n1")
		}).
		AndGroup(func(qb QueryBuilder) {}).
		OrderBy("job_id", true).
		OrderBy("position", false).
		Build()

	require.NoError(t, err)
	assert.Equal(t, "SELECT job_id, task_id FROM public.tasks WHERE state = ? OR (state = ? AND node_id = ?) ORDER BY job_id ASC, position DESC", query)
	assert.Equal(t, []interface{}{"TODO", "DISPATCHED", "n1"}, args)
}

func TestInsertUpsert(t *testing.T) {
	query, args, err := NewQueryBuilder("").
		Insert("id", "name").
		Into("jobs").
		Values(1, "a").
		Values(2, "b").
		OnConflict("id").
		SetExclude("name").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO jobs (id, name) VALUES (?, ?), (?, ?) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name", query)
	assert.Equal(t, []interface{}{1, "a", 2, "b"}, args)

	query, _, err = NewQueryBuilder("").Insert("id").Into("jobs").Values(1).OnConflict("id").DoNothing().Build()
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO jobs (id) VALUES (?) ON CONFLICT (id) DO NOTHING", query)
}

func TestBuildErrors(t *testing.T) {
	_, _, err := NewQueryBuilder("").Select("id").Build()
	assert.Error(t, err, "no table")

	_, _, err = NewQueryBuilder("").From("jobs").Build()
	assert.Error(t, err, "no columns")

	_, _, err = NewQueryBuilder("").Insert("id", "name").Into("jobs").Build()
	assert.Error(t, err, "no rows")

	_, _, err = NewQueryBuilder("").Insert("id", "name").Into("jobs").Values(1).Build()
	assert.Error(t, err, "short row")
}
