// Package export writes successful query results to the object store as
// parquet files.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/storage"
)

const DefaultPrefix = "exports"

var ErrNothingToExport = errors.New("only successful, non dry-run results can be exported")

type Exporter struct {
	store  storage.Writer
	prefix string
	now    func() time.Time
}

func New(store storage.Writer, prefix string) *Exporter {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Exporter{store: store, prefix: prefix, now: time.Now}
}

// Export uploads result as <prefix>/<date>/<job id>.parquet and returns the
// object key.
func (e *Exporter) Export(ctx context.Context, result query.Result) (string, error) {
	if !result.OK() || result.DryRun {
		return "", ErrNothingToExport
	}
	jobID := result.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	key, err := storage.BuildExportPath(e.prefix, jobID, e.now())
	if err != nil {
		return "", err
	}
	data, err := Encode(result)
	if err != nil {
		return "", err
	}
	if _, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return key, nil
}

type kind int

const (
	kindString kind = iota
	kindInt64
	kindDouble
	kindBool
)

type column struct {
	name string
	kind kind
}

// Encode writes result rows to a parquet file with one optional column per
// result column.
func Encode(result query.Result) ([]byte, error) {
	columns := resultColumns(result)
	if len(columns) == 0 {
		return nil, fmt.Errorf("result has no columns")
	}

	group := parquet.Group{}
	kinds := make(map[string]kind, len(columns))
	for _, col := range columns {
		if _, dup := kinds[col.name]; dup {
			return nil, fmt.Errorf("duplicate column %q", col.name)
		}
		kinds[col.name] = col.kind
		group[col.name] = parquet.Optional(leafFor(col.kind))
	}
	schema := parquet.NewSchema("result", group)

	// Group fields are ordered by name; that order defines column indexes.
	fields := schema.Fields()
	rows := make([]parquet.Row, 0, len(result.Rows))
	for i, row := range result.Rows {
		encoded := make(parquet.Row, 0, len(fields))
		for index, field := range fields {
			raw, _ := row.Get(field.Name())
			value, err := toValue(raw, kinds[field.Name()])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, field.Name(), err)
			}
			if value.IsNull() {
				encoded = append(encoded, value.Level(0, 0, index))
			} else {
				encoded = append(encoded, value.Level(0, 1, index))
			}
		}
		rows = append(rows, encoded)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func leafFor(k kind) parquet.Node {
	switch k {
	case kindInt64:
		return parquet.Leaf(parquet.Int64Type)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func resultColumns(result query.Result) []column {
	if len(result.Schema) > 0 {
		columns := make([]column, 0, len(result.Schema))
		for _, col := range result.Schema {
			columns = append(columns, column{name: col.Name, kind: kindForType(col.Type, col.Mode)})
		}
		return columns
	}
	if len(result.Rows) == 0 {
		return nil
	}
	first := result.Rows[0]
	columns := make([]column, 0, len(first.Keys()))
	for _, key := range first.Keys() {
		columns = append(columns, column{name: key, kind: inferKind(result.Column(key))})
	}
	return columns
}

func kindForType(warehouseType, mode string) kind {
	if strings.EqualFold(mode, "REPEATED") {
		return kindString
	}
	switch strings.ToUpper(warehouseType) {
	case "INTEGER", "INT64":
		return kindInt64
	case "FLOAT", "FLOAT64", "NUMERIC", "BIGNUMERIC", "DECIMAL":
		return kindDouble
	case "BOOLEAN", "BOOL":
		return kindBool
	default:
		return kindString
	}
}

func inferKind(values []any) kind {
	for _, value := range values {
		switch typed := value.(type) {
		case nil:
			continue
		case bool:
			return kindBool
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			return kindInt64
		case float32, float64, *big.Rat:
			return kindDouble
		case json.Number:
			if _, err := typed.Int64(); err == nil {
				return kindInt64
			}
			return kindDouble
		default:
			return kindString
		}
	}
	return kindString
}

func toValue(raw any, k kind) (parquet.Value, error) {
	if raw == nil {
		return parquet.NullValue(), nil
	}
	switch k {
	case kindInt64:
		i, err := toInt64(raw)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int64Value(i), nil
	case kindDouble:
		f, err := toFloat64(raw)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.DoubleValue(f), nil
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return parquet.BooleanValue(b), nil
	default:
		return parquet.ByteArrayValue([]byte(toString(raw))), nil
	}
}

func toInt64(raw any) (int64, error) {
	switch typed := raw.(type) {
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint8:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case json.Number:
		return typed.Int64()
	case string:
		return strconv.ParseInt(typed, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func toFloat64(raw any) (float64, error) {
	switch typed := raw.(type) {
	case float32:
		return float64(typed), nil
	case float64:
		return typed, nil
	case *big.Rat:
		f, _ := typed.Float64()
		return f, nil
	case json.Number:
		return typed.Float64()
	case string:
		return strconv.ParseFloat(typed, 64)
	default:
		if i, err := toInt64(raw); err == nil {
			return float64(i), nil
		}
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

func toString(raw any) string {
	switch typed := raw.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case []any, map[string]any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	default:
		return fmt.Sprint(typed)
	}
}
