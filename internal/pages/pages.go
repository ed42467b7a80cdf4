// Package pages models inclusive page intervals and their partitioning into
// conversion batches.
package pages

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Range is an inclusive page interval. Pages are 1-based. A Range is never
// empty: Start <= End always holds for values produced by this package.
type Range struct {
	Start int
	End   int
}

// Len returns the number of pages covered by the range.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Contains reports whether page falls inside the range.
func (r Range) Contains(page int) bool {
	return page >= r.Start && page <= r.End
}

// Pages returns every page number in the range in ascending order.
func (r Range) Pages() []int {
	out := make([]int, 0, r.Len())
	for p := r.Start; p <= r.End; p++ {
		out = append(out, p)
	}
	return out
}

// Singles splits the range into one Range per page, in ascending order.
func (r Range) Singles() []Range {
	out := make([]Range, 0, r.Len())
	for p := r.Start; p <= r.End; p++ {
		out = append(out, Range{Start: p, End: p})
	}
	return out
}

// String renders the range as "start-end", e.g. "1-5". Used as a cache key
// component, so the format is stable.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Divide partitions [1, totalPages] into consecutive ranges of length
// batchSize, the last range truncated at totalPages.
//
// When borderPages > 0, only the leading and trailing borderPages pages are
// covered (incipit and end of the document), each segment partitioned by
// batchSize, the middle skipped. If totalPages < 2*borderPages the whole
// document is covered instead, as in the unbordered case.
func Divide(totalPages, batchSize, borderPages int) ([]Range, error) {
	if totalPages < 1 {
		return nil, eris.Errorf("pages: total pages must be >= 1, got %d", totalPages)
	}
	if batchSize < 1 {
		return nil, eris.Errorf("pages: batch size must be >= 1, got %d", batchSize)
	}
	if borderPages < 0 {
		return nil, eris.Errorf("pages: border pages must be >= 0, got %d", borderPages)
	}

	if borderPages == 0 || totalPages < 2*borderPages {
		return partition(1, totalPages, batchSize), nil
	}

	head := partition(1, borderPages, batchSize)
	tail := partition(totalPages-borderPages+1, totalPages, batchSize)

	// The segments abut at most; an overlap would mean the arithmetic above
	// is broken, not an acceptable coverage policy.
	if head[len(head)-1].End >= tail[0].Start {
		return nil, eris.Errorf("pages: border segments overlap: %s and %s",
			head[len(head)-1], tail[0])
	}

	return append(head, tail...), nil
}

// DivideBorder is Divide with a required border selection. borderPages must
// be >= 1; a zero border would silently select no pages at all.
func DivideBorder(totalPages, batchSize, borderPages int) ([]Range, error) {
	if borderPages < 1 {
		return nil, eris.Errorf("pages: border pages must be >= 1, got %d", borderPages)
	}
	return Divide(totalPages, batchSize, borderPages)
}

// partition splits [start, end] into ranges of length batchSize, the last
// truncated at end. start <= end must hold.
func partition(start, end, batchSize int) []Range {
	var out []Range
	for s := start; s <= end; s += batchSize {
		e := s + batchSize - 1
		if e > end {
			e = end
		}
		out = append(out, Range{Start: s, End: e})
	}
	return out
}
