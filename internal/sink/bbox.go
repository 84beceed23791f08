package sink

import "github.com/ajitpratap0/gpkgsink/pkg/geometry"

// bboxAggregator unions feature extents per table, remembering the order
// in which tables were first seen.
type bboxAggregator struct {
	order  []string
	bboxes map[string]geometry.Bbox
}

func newBboxAggregator() *bboxAggregator {
	return &bboxAggregator{bboxes: make(map[string]geometry.Bbox)}
}

func (a *bboxAggregator) add(table string, b geometry.Bbox) {
	cur, ok := a.bboxes[table]
	if !ok {
		a.order = append(a.order, table)
		a.bboxes[table] = b
		return
	}
	a.bboxes[table] = cur.Merge(b)
}

// each calls fn per table in first-seen order, stopping at the first error.
func (a *bboxAggregator) each(fn func(table string, b geometry.Bbox) error) error {
	for _, t := range a.order {
		if err := fn(t, a.bboxes[t]); err != nil {
			return err
		}
	}
	return nil
}

func (a *bboxAggregator) get(table string) (geometry.Bbox, bool) {
	b, ok := a.bboxes[table]
	return b, ok
}
