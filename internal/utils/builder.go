package querybuilder

import (
	"fmt"
	"strings"
)

// QueryBuilder assembles SELECT and INSERT statements with `?` bind
// markers. Callers pass the result through sqlx.Rebind for their driver.
type QueryBuilder interface {
	Select(cols ...string) QueryBuilder
	From(table string) QueryBuilder
	Into(table string) QueryBuilder
	Where(clause string, args ...interface{}) QueryBuilder

	Or(clause string, args ...interface{}) QueryBuilder
	And(clause string, args ...interface{}) QueryBuilder

	AndGroup(fn func(qb QueryBuilder)) QueryBuilder
	OrGroup(fn func(qb QueryBuilder)) QueryBuilder

	OrderBy(col string, asc bool) QueryBuilder

	Insert(cols ...string) QueryBuilder
	Values(values ...interface{}) QueryBuilder

	OnConflict(cols ...string) QueryBuilder
	DoNothing() QueryBuilder
	SetExclude(cols ...string) QueryBuilder

	Build() (string, []interface{}, error)

	getConditions() []Condition
}

type queryBuilder struct {
	schema      string
	table       string
	cols        []string
	conditions  []Condition
	rows        [][]interface{}
	orderBy     []string
	isInsert    bool
	onConflict  []string
	excludeCols []string
}

func NewQueryBuilder(schema string) QueryBuilder {
	return &queryBuilder{
		schema: schema,
	}
}

func (q *queryBuilder) getConditions() []Condition {
	return q.conditions
}

func (q *queryBuilder) Select(cols ...string) QueryBuilder {
	q.cols = append(q.cols, cols...)
	return q
}

func (q *queryBuilder) From(table string) QueryBuilder {
	q.table = table
	return q
}

func (q *queryBuilder) Into(table string) QueryBuilder {
	q.table = table
	return q
}

func (q *queryBuilder) Insert(cols ...string) QueryBuilder {
	q.isInsert = true
	q.cols = cols
	return q
}

// Values appends one row; call it once per row.
func (q *queryBuilder) Values(values ...interface{}) QueryBuilder {
	q.rows = append(q.rows, values)
	return q
}

func (q *queryBuilder) OnConflict(cols ...string) QueryBuilder {
	q.onConflict = cols
	return q
}

func (q *queryBuilder) DoNothing() QueryBuilder {
	q.excludeCols = nil
	return q
}

// SetExclude updates cols from the conflicting row (col = EXCLUDED.col).
func (q *queryBuilder) SetExclude(cols ...string) QueryBuilder {
	q.excludeCols = cols
	return q
}

func (q *queryBuilder) Where(clause string, args ...interface{}) QueryBuilder {
	return q.And(clause, args...)
}

func (q *queryBuilder) And(clause string, args ...interface{}) QueryBuilder {
	q.conditions = append(q.conditions, Condition{condType: CondTypeAnd, clause: clause, args: args})
	return q
}

func (q *queryBuilder) Or(clause string, args ...interface{}) QueryBuilder {
	q.conditions = append(q.conditions, Condition{condType: CondTypeOr, clause: clause, args: args})
	return q
}

func (q *queryBuilder) group(condType CondType, fn func(qb QueryBuilder)) QueryBuilder {
	sub := NewQueryBuilder(q.schema)
	fn(sub)
	q.conditions = append(q.conditions, Condition{
		condType:   condType,
		subCond:    sub.getConditions(),
		isSubGroup: true,
	})
	return q
}

func (q *queryBuilder) AndGroup(fn func(qb QueryBuilder)) QueryBuilder {
	return q.group(CondTypeAnd, fn)
}

func (q *queryBuilder) OrGroup(fn func(qb QueryBuilder)) QueryBuilder {
	return q.group(CondTypeOr, fn)
}

func (q *queryBuilder) OrderBy(col string, asc bool) QueryBuilder {
	direction := "ASC"
	if !asc {
		direction = "DESC"
	}
	q.orderBy = append(q.orderBy, fmt.Sprintf("%s %s", col, direction))
	return q
}

func buildCondition(conditions []Condition) (string, []interface{}) {
	parts := make([]string, 0, len(conditions)*2)
	var args []interface{}

	for _, cond := range conditions {
		if cond.isSubGroup && len(cond.subCond) == 0 {
			continue
		}
		if len(parts) > 0 {
			parts = append(parts, cond.condType.ToString())
		}
		if cond.isSubGroup {
			clause, subArgs := buildCondition(cond.subCond)
			parts = append(parts, fmt.Sprintf("(%s)", clause))
			args = append(args, subArgs...)
			continue
		}
		parts = append(parts, cond.clause)
		args = append(args, cond.args...)
	}

	return strings.Join(parts, " "), args
}

func (q *queryBuilder) qualified() string {
	if q.schema == "" {
		return q.table
	}
	return q.schema + "." + q.table
}

func (q *queryBuilder) Build() (string, []interface{}, error) {
	if q.table == "" {
		return "", nil, fmt.Errorf("querybuilder: no table")
	}
	if q.isInsert {
		return q.buildInsert()
	}
	return q.buildSelect()
}

func (q *queryBuilder) buildSelect() (string, []interface{}, error) {
	if len(q.cols) == 0 {
		return "", nil, fmt.Errorf("querybuilder: select without columns")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(q.cols, ", "), q.qualified())

	var args []interface{}
	if len(q.conditions) > 0 {
		condition, condArgs := buildCondition(q.conditions)
		if condition != "" {
			query += " WHERE " + condition
			args = append(args, condArgs...)
		}
	}
	if len(q.orderBy) > 0 {
		query += " ORDER BY " + strings.Join(q.orderBy, ", ")
	}
	return query, args, nil
}

func (q *queryBuilder) buildInsert() (string, []interface{}, error) {
	if len(q.rows) == 0 || len(q.cols) == 0 {
		return "", nil, fmt.Errorf("querybuilder: insert into %s without rows", q.table)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.cols)), ", ")
	tuples := make([]string, 0, len(q.rows))
	args := make([]interface{}, 0, len(q.rows)*len(q.cols))
	for i, row := range q.rows {
		if len(row) != len(q.cols) {
			return "", nil, fmt.Errorf("querybuilder: row %d has %d values for %d columns", i, len(row), len(q.cols))
		}
		tuples = append(tuples, "("+placeholders+")")
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", q.qualified(), strings.Join(q.cols, ", "), strings.Join(tuples, ", "))
	if len(q.onConflict) == 0 {
		return query, args, nil
	}

	query += fmt.Sprintf(" ON CONFLICT (%s)", strings.Join(q.onConflict, ", "))
	if len(q.excludeCols) == 0 {
		return query + " DO NOTHING", args, nil
	}
	sets := make([]string, 0, len(q.excludeCols))
	for _, col := range q.excludeCols {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return query + " DO UPDATE SET " + strings.Join(sets, ", "), args, nil
}
