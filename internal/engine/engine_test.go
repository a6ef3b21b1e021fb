package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/queryhub-go/internal/dataset"
)

const employeesCSV = `employee_name,department_name,salary,active,hired_at
Alice,sales,52000,true,2021-03-01
Bob,engineering,81000,false,2019-11-15
Carol,sales,61000.5,true,2022-07-09
Dan,support,,true,
`

func openEmployees(t *testing.T) *Table {
	t.Helper()
	ds, err := dataset.Load(strings.NewReader(employeesCSV), dataset.LoadOptions{Name: "employees.csv", MaxBytes: 1 << 20})
	require.NoError(t, err)
	schema := dataset.ExtractSchema(ds, dataset.SchemaOptions{TableName: "data", SampleValues: 3, SampleRows: 2})

	table, err := Open(context.Background(), ds, schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func TestExecute_FiltersAndProjects(t *testing.T) {
	table := openEmployees(t)

	res, err := table.Execute(context.Background(),
		"SELECT employee_name FROM data WHERE department_name = 'sales' ORDER BY employee_name;",
		Limits{Timeout: 5 * time.Second, MaxRows: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{"employee_name"}, res.Columns)
	assert.Equal(t, [][]any{{"Alice"}, {"Carol"}}, res.Rows)
	assert.False(t, res.Truncated)
}

func TestExecute_TypedColumns(t *testing.T) {
	table := openEmployees(t)

	res, err := table.Execute(context.Background(),
		"SELECT count(*) AS n, max(salary) AS top FROM data WHERE active AND hired_at >= TIMESTAMP '2020-01-01'",
		Limits{Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 2, res.Rows[0][0])
	assert.InDelta(t, 61000.5, res.Rows[0][1], 0.001)
}

func TestExecute_BlankCellsAreNull(t *testing.T) {
	table := openEmployees(t)

	res, err := table.Execute(context.Background(),
		"SELECT employee_name FROM data WHERE salary IS NULL",
		Limits{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Dan"}}, res.Rows)
}

func TestExecute_EmptyResultIsSuccess(t *testing.T) {
	table := openEmployees(t)

	res, err := table.Execute(context.Background(),
		"SELECT employee_name FROM data WHERE department_name = 'legal'",
		Limits{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"employee_name"}, res.Columns)
	assert.Empty(t, res.Rows)
}

func TestExecute_TruncatesAtMaxRows(t *testing.T) {
	table := openEmployees(t)

	res, err := table.Execute(context.Background(), "SELECT * FROM data", Limits{Timeout: 5 * time.Second, MaxRows: 2})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestExecute_UnknownColumn(t *testing.T) {
	table := openEmployees(t)

	_, err := table.Execute(context.Background(), "SELECT bonus FROM data", Limits{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrCanceled))
}

func TestExecute_Timeout(t *testing.T) {
	table := openEmployees(t)

	_, err := table.Execute(context.Background(),
		"SELECT count(*) FROM range(1000000000) a, range(1000000000) b",
		Limits{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecute_CallerCancel(t *testing.T) {
	table := openEmployees(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := table.Execute(ctx,
		"SELECT count(*) FROM range(1000000000) a, range(1000000000) b",
		Limits{Timeout: 10 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestExecute_NoExternalAccess(t *testing.T) {
	table := openEmployees(t)

	_, err := table.Execute(context.Background(), "SELECT * FROM read_csv('/etc/hosts')", Limits{Timeout: 5 * time.Second})
	require.Error(t, err)

	_, err = table.Execute(context.Background(), "SET enable_external_access = true", Limits{Timeout: 5 * time.Second})
	require.Error(t, err)
}

func TestCheckGrammar(t *testing.T) {
	table := openEmployees(t)
	ctx := context.Background()

	assert.NoError(t, table.CheckGrammar(ctx, "SELECT employee_name FROM data;"))
	assert.Error(t, table.CheckGrammar(ctx, "SELECT FROM WHERE ("))
	assert.Error(t, table.CheckGrammar(ctx, "SELECT 1; SELECT 2"))
}

func TestStripTrailingSemicolons(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripTrailingSemicolons("  SELECT 1 ;; "))
	assert.Equal(t, "", stripTrailingSemicolons(";"))
}
