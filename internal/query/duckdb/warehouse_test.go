package duckdb

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/storage"
)

type orderRow struct {
	ID     int64   `parquet:"id"`
	Site   string  `parquet:"site"`
	Amount float64 `parquet:"amount"`
}

type itemRow struct {
	OrderID int64  `parquet:"order_id"`
	SKU     string `parquet:"sku"`
}

var testScope = query.Scope{Project: "p", Dataset: "d"}

func TestRunCountsRowsFromParquet(t *testing.T) {
	warehouse := newTestWarehouse(t)

	result, err := warehouse.Run(context.Background(), query.Job{SQL: "SELECT COUNT(*) AS row_count FROM `p.d.orders`;"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if value, _ := result.Rows[0].Get("row_count"); value != int64(3) {
		t.Fatalf("row_count = %#v", value)
	}
	if result.Schema[0].Name != "row_count" || result.Schema[0].Type != "INTEGER" {
		t.Fatalf("schema = %#v", result.Schema)
	}
	if !strings.HasPrefix(result.JobID, "duckdb_") {
		t.Fatalf("JobID = %q", result.JobID)
	}
	if result.BytesProcessed == 0 {
		t.Fatal("expected bytes processed for referenced table")
	}
}

func TestRunServesInformationSchemaTablesAndColumns(t *testing.T) {
	warehouse := newTestWarehouse(t)

	tables, err := warehouse.Run(context.Background(), query.Job{
		SQL: "SELECT table_name FROM `p.d`.INFORMATION_SCHEMA.TABLES ORDER BY table_name",
	})
	if err != nil {
		t.Fatalf("Run(TABLES) error = %v", err)
	}
	if len(tables.Rows) != 2 {
		t.Fatalf("tables = %d", len(tables.Rows))
	}
	first, _ := tables.Rows[0].Get("table_name")
	second, _ := tables.Rows[1].Get("table_name")
	if first != "items" || second != "orders" {
		t.Fatalf("tables = %v, %v", first, second)
	}

	columns, err := warehouse.Run(context.Background(), query.Job{
		SQL: "SELECT table_name, column_name, data_type FROM `p.d`.INFORMATION_SCHEMA.COLUMNS ORDER BY table_name, ordinal_position",
	})
	if err != nil {
		t.Fatalf("Run(COLUMNS) error = %v", err)
	}
	if len(columns.Rows) != 5 {
		t.Fatalf("columns = %d", len(columns.Rows))
	}
	if name, _ := columns.Rows[2].Get("column_name"); name != "id" {
		t.Fatalf("first orders column = %#v", name)
	}
}

func TestRunRejectsUnsupportedMetadataViews(t *testing.T) {
	warehouse := newTestWarehouse(t)
	for _, view := range []string{"TABLE_STORAGE", "PARTITIONS"} {
		_, err := warehouse.Run(context.Background(), query.Job{
			SQL: "SELECT table_name, row_count FROM `p.d`.INFORMATION_SCHEMA." + view,
		})
		if err == nil || !strings.Contains(err.Error(), view) {
			t.Fatalf("Run(%s) error = %v", view, err)
		}
	}
}

func TestRunDryRunReportsBytesWithoutRows(t *testing.T) {
	warehouse := newTestWarehouse(t)
	result, err := warehouse.Run(context.Background(), query.Job{
		SQL:    "SELECT * FROM `p.d.orders` o JOIN `p.d.items` i ON o.id = i.order_id",
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("dry run rows = %d", len(result.Rows))
	}
	store := warehouse.Store.(*memoryStore)
	want := int64(len(store.objects["warehouse/orders/part-0.parquet"]) + len(store.objects["warehouse/items/part-0.parquet"]))
	if result.BytesProcessed != want {
		t.Fatalf("BytesProcessed = %d, want %d", result.BytesProcessed, want)
	}
}

func TestRunBindsNamedParams(t *testing.T) {
	warehouse := newTestWarehouse(t)
	result, err := warehouse.Run(context.Background(), query.Job{
		SQL:    "SELECT id FROM `p.d.orders` WHERE site = @site AND amount > @min ORDER BY id",
		Params: []query.Param{query.StringParam("site", "hq"), query.FloatParam("min", 1)},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if id, _ := result.Rows[0].Get("id"); id != int64(2) {
		t.Fatalf("id = %#v", id)
	}
}

func TestRewriteParamRefsSkipsLiteralsAndUnboundNames(t *testing.T) {
	params := []query.Param{query.StringParam("site", "hq"), query.IntParam("limit", 5)}
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{name: "bound", sql: "SELECT * FROM t WHERE site = @site LIMIT @limit", want: "SELECT * FROM t WHERE site = $site LIMIT $limit"},
		{name: "string literal", sql: "SELECT * FROM t WHERE owner = 'ops@site' AND site = @site", want: "SELECT * FROM t WHERE owner = 'ops@site' AND site = $site"},
		{name: "escaped quote", sql: `SELECT 'it\'s @site' AS note, @site AS s`, want: `SELECT 'it\'s @site' AS note, $site AS s`},
		{name: "quoted identifier", sql: `SELECT "@site" FROM "d"."t" WHERE x = @site`, want: `SELECT "@site" FROM "d"."t" WHERE x = $site`},
		{name: "unbound", sql: "SELECT @other, @site", want: "SELECT @other, $site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteParamRefs(tt.sql, params); got != tt.want {
				t.Fatalf("rewriteParamRefs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunKeepsAtSignInLiterals(t *testing.T) {
	warehouse := newTestWarehouse(t)
	result, err := warehouse.Run(context.Background(), query.Job{
		SQL:    "SELECT 'ops@site' AS owner, id FROM `p.d.orders` WHERE site = @site ORDER BY id LIMIT 1",
		Params: []query.Param{query.StringParam("site", "branch")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if owner, _ := result.Rows[0].Get("owner"); owner != "ops@site" {
		t.Fatalf("owner = %#v", owner)
	}
}

func TestTranslate(t *testing.T) {
	warehouse := New(&memoryStore{}, testScope, "warehouse", nil)
	got, err := warehouse.translate("SELECT * FROM `p.d.orders` JOIN `p.d`.items USING (id);")
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	if got != `SELECT * FROM "d"."orders" JOIN "d"."items" USING (id)` {
		t.Fatalf("translate() = %q", got)
	}
	if _, err := warehouse.translate("SELECT * FROM `other.ds.t`"); err == nil {
		t.Fatal("expected error for out-of-scope reference")
	}
	if _, err := warehouse.translate(" ; "); err == nil {
		t.Fatal("expected error for empty sql")
	}
}

func newTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	orders, err := buildParquet([]orderRow{{1, "hq", 0.5}, {2, "hq", 9.5}, {3, "branch", 4}})
	if err != nil {
		t.Fatalf("buildParquet(orders) error = %v", err)
	}
	items, err := buildParquet([]itemRow{{1, "a"}, {2, "b"}})
	if err != nil {
		t.Fatalf("buildParquet(items) error = %v", err)
	}
	store := &memoryStore{objects: map[string][]byte{
		"warehouse/orders/part-0.parquet": orders,
		"warehouse/items/part-0.parquet":  items,
		"warehouse/README.md":             []byte("ignored"),
	}}
	return New(store, testScope, "warehouse", nil)
}

func buildParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var objects []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix+"/") {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return objects, nil
}
