package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

// frame is the tabular value bound to df. Iterating or indexing it yields
// one dict per row.
type frame struct {
	columns []string
	rows    [][]any
}

var (
	_ starlark.Indexable = (*frame)(nil)
	_ starlark.Iterable  = (*frame)(nil)
	_ starlark.HasAttrs  = (*frame)(nil)
)

func newFrame(rows []query.Row) *frame {
	f := &frame{}
	seen := map[string]bool{}
	for _, row := range rows {
		for _, key := range row.Keys() {
			if !seen[key] {
				seen[key] = true
				f.columns = append(f.columns, key)
			}
		}
	}
	for _, row := range rows {
		values := make([]any, len(f.columns))
		for i, column := range f.columns {
			values[i], _ = row.Get(column)
		}
		f.rows = append(f.rows, values)
	}
	return f
}

func (f *frame) String() string {
	return fmt.Sprintf("frame(%d rows x %d columns)", len(f.rows), len(f.columns))
}
func (f *frame) Type() string          { return "frame" }
func (f *frame) Freeze()               {}
func (f *frame) Truth() starlark.Bool  { return len(f.rows) > 0 }
func (f *frame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: frame") }
func (f *frame) Len() int              { return len(f.rows) }

func (f *frame) Index(i int) starlark.Value {
	return f.rowDict(i)
}

func (f *frame) Iterate() starlark.Iterator {
	return &frameIterator{frame: f}
}

func (f *frame) rowDict(i int) *starlark.Dict {
	dict := starlark.NewDict(len(f.columns))
	for j, column := range f.columns {
		_ = dict.SetKey(starlark.String(column), toStarlark(f.rows[i][j]))
	}
	return dict
}

func (f *frame) columnIndex(name string) (int, error) {
	for i, column := range f.columns {
		if column == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("frame has no column %q", name)
}

func (f *frame) subset(indexes []int) *frame {
	out := &frame{columns: f.columns, rows: make([][]any, 0, len(indexes))}
	for _, i := range indexes {
		out.rows = append(out.rows, f.rows[i])
	}
	return out
}

var frameMethods = map[string]*starlark.Builtin{
	"column":       starlark.NewBuiltin("column", frameColumn),
	"head":         starlark.NewBuiltin("head", frameHead),
	"filter":       starlark.NewBuiltin("filter", frameFilter),
	"sort_by":      starlark.NewBuiltin("sort_by", frameSortBy),
	"value_counts": starlark.NewBuiltin("value_counts", frameValueCounts),
	"sum":          starlark.NewBuiltin("sum", frameAggregate(aggregateSum)),
	"mean":         starlark.NewBuiltin("mean", frameAggregate(aggregateMean)),
	"min":          starlark.NewBuiltin("min", frameAggregate(aggregateMin)),
	"max":          starlark.NewBuiltin("max", frameAggregate(aggregateMax)),
}

func (f *frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		values := make([]starlark.Value, 0, len(f.columns))
		for _, column := range f.columns {
			values = append(values, starlark.String(column))
		}
		return starlark.NewList(values), nil
	case "rows":
		values := make([]starlark.Value, 0, len(f.rows))
		for i := range f.rows {
			values = append(values, f.rowDict(i))
		}
		return starlark.NewList(values), nil
	}
	if method, ok := frameMethods[name]; ok {
		return method.BindReceiver(f), nil
	}
	return nil, nil
}

func (f *frame) AttrNames() []string {
	names := []string{"columns", "rows"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type frameIterator struct {
	frame *frame
	next  int
}

func (it *frameIterator) Next(p *starlark.Value) bool {
	if it.next >= len(it.frame.rows) {
		return false
	}
	*p = it.frame.rowDict(it.next)
	it.next++
	return true
}

func (it *frameIterator) Done() {}

func receiver(b *starlark.Builtin) *frame {
	return b.Receiver().(*frame)
}

func frameColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	f := receiver(b)
	index, err := f.columnIndex(name)
	if err != nil {
		return nil, err
	}
	values := make([]starlark.Value, 0, len(f.rows))
	for _, row := range f.rows {
		values = append(values, toStarlark(row[index]))
	}
	return starlark.NewList(values), nil
}

func frameHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	f := receiver(b)
	if n < 0 {
		n = 0
	}
	if n > len(f.rows) {
		n = len(f.rows)
	}
	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	return f.subset(indexes), nil
}

func frameFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var predicate starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &predicate); err != nil {
		return nil, err
	}
	f := receiver(b)
	var indexes []int
	for i := range f.rows {
		keep, err := starlark.Call(thread, predicate, starlark.Tuple{f.rowDict(i)}, nil)
		if err != nil {
			return nil, err
		}
		if keep.Truth() {
			indexes = append(indexes, i)
		}
	}
	return f.subset(indexes), nil
}

func frameSortBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	reverse := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &name, "reverse?", &reverse); err != nil {
		return nil, err
	}
	f := receiver(b)
	index, err := f.columnIndex(name)
	if err != nil {
		return nil, err
	}
	indexes := make([]int, len(f.rows))
	for i := range indexes {
		indexes[i] = i
	}
	var compareErr error
	sort.SliceStable(indexes, func(i, j int) bool {
		left := toStarlark(f.rows[indexes[i]][index])
		right := toStarlark(f.rows[indexes[j]][index])
		if left == starlark.None || right == starlark.None {
			// None sorts last regardless of direction.
			return right == starlark.None && left != starlark.None
		}
		if reverse {
			left, right = right, left
		}
		less, err := starlark.Compare(syntax.LT, left, right)
		if err != nil && compareErr == nil {
			compareErr = err
		}
		return less
	})
	if compareErr != nil {
		return nil, compareErr
	}
	return f.subset(indexes), nil
}

func frameValueCounts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	f := receiver(b)
	index, err := f.columnIndex(name)
	if err != nil {
		return nil, err
	}
	counts := starlark.NewDict(0)
	for _, row := range f.rows {
		key := starlark.String(labelOf(toStarlark(row[index])))
		current, found, err := counts.Get(key)
		if err != nil {
			return nil, err
		}
		n := 0
		if found {
			n, _ = starlark.AsInt32(current)
		}
		if err := counts.SetKey(key, starlark.MakeInt(n+1)); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

type aggregate func(values []starlark.Value) (starlark.Value, error)

func frameAggregate(fn aggregate) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		f := receiver(b)
		index, err := f.columnIndex(name)
		if err != nil {
			return nil, err
		}
		values := make([]starlark.Value, 0, len(f.rows))
		for _, row := range f.rows {
			if value := toStarlark(row[index]); value != starlark.None {
				values = append(values, value)
			}
		}
		return fn(values)
	}
}

func aggregateSum(values []starlark.Value) (starlark.Value, error) {
	var total starlark.Value = starlark.MakeInt(0)
	for _, value := range values {
		next, err := starlark.Binary(syntax.PLUS, total, value)
		if err != nil {
			return nil, err
		}
		total = next
	}
	return total, nil
}

func aggregateMean(values []starlark.Value) (starlark.Value, error) {
	if len(values) == 0 {
		return starlark.None, nil
	}
	var total float64
	for _, value := range values {
		f, ok := starlark.AsFloat(value)
		if !ok {
			return nil, fmt.Errorf("mean: non-numeric value %s", value.Type())
		}
		total += f
	}
	return starlark.Float(total / float64(len(values))), nil
}

func aggregateMin(values []starlark.Value) (starlark.Value, error) {
	return extreme(values, syntax.LT)
}

func aggregateMax(values []starlark.Value) (starlark.Value, error) {
	return extreme(values, syntax.GT)
}

func extreme(values []starlark.Value, op syntax.Token) (starlark.Value, error) {
	if len(values) == 0 {
		return starlark.None, nil
	}
	best := values[0]
	for _, value := range values[1:] {
		better, err := starlark.Compare(op, value, best)
		if err != nil {
			return nil, err
		}
		if better {
			best = value
		}
	}
	return best, nil
}
