package cache

import (
	"iter"

	"github.com/rotisserie/eris"
)

// BatchItem is one (input, output) pair yielded by Batch.
type BatchItem[In, Out any] struct {
	Input     In
	Output    Out
	FromCache bool
}

// Batch is the manual, batch-aware caching pattern. It yields one
// (input, output) pair per input, in input order: already-cached inputs are
// served from disk and never reach compute; the remaining inputs are passed
// to compute as a single lazy sequence, in their original relative order, and
// compute's output is consumed in lockstep.
//
// unmarshal must accept a nil payload: that is the stored failure sentinel,
// and it decodes to whatever Out value represents absence.
//
// If compute yields fewer outputs than it was given inputs, the iterator
// yields a non-nil error and stops: that is a broken contract in the compute
// function, not a recoverable condition, and the caller must terminate.
func Batch[In, Out any](
	part *Part,
	keyFn func(In) (string, error),
	marshal func(Out) ([]byte, error),
	unmarshal func([]byte) (Out, error),
	compute func(iter.Seq[In]) iter.Seq[Out],
	inputs []In,
) iter.Seq2[BatchItem[In, Out], error] {
	return func(yield func(BatchItem[In, Out], error) bool) {
		var zero BatchItem[In, Out]

		type slot struct {
			key  string
			data []byte
			hit  bool
		}
		slots := make([]slot, len(inputs))
		var uncached []In
		for i, in := range inputs {
			key, err := keyFn(in)
			if err != nil {
				yield(zero, err)
				return
			}
			data, state, err := part.Lookup(key)
			if err != nil {
				yield(zero, err)
				return
			}
			// The empty sentinel counts as cached: a remembered failure
			// short-circuits exactly like a remembered success.
			slots[i] = slot{key: key, data: data, hit: state != Miss}
			if state == Miss {
				uncached = append(uncached, in)
			}
		}

		seq := func(y func(In) bool) {
			for _, in := range uncached {
				if !y(in) {
					return
				}
			}
		}
		next, stop := iter.Pull(compute(seq))
		defer stop()

		for i, in := range inputs {
			if slots[i].hit {
				out, err := unmarshal(slots[i].data)
				if err != nil {
					yield(zero, eris.Wrapf(err, "cache: decode cached entry %s", slots[i].key))
					return
				}
				if !yield(BatchItem[In, Out]{Input: in, Output: out, FromCache: true}, nil) {
					return
				}
				continue
			}

			out, ok := next()
			if !ok {
				yield(zero, eris.Errorf(
					"cache: batch compute under-produced: no output for input %d (key %s)",
					i, slots[i].key))
				return
			}

			data, err := marshal(out)
			if err != nil {
				yield(zero, eris.Wrapf(err, "cache: encode entry %s", slots[i].key))
				return
			}
			if len(data) == 0 {
				err = part.PutEmpty(slots[i].key)
			} else {
				err = part.Put(slots[i].key, data)
			}
			if err != nil {
				yield(zero, err)
				return
			}

			if !yield(BatchItem[In, Out]{Input: in, Output: out}, nil) {
				return
			}
		}
	}
}
