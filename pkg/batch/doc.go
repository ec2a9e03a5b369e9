// Package batch runs many recipes with a bounded worker pool.
//
// Each recipe is supervised on its own: it is constructed, checked by the
// policy gate, the minimum-version gate and, when enabled, the trust gate,
// and only then handed to its execution pipeline. A lookup, parse or
// pipeline error ends that recipe with StatusError and the rest of the
// batch carries on. Results keep the order of the requested names.
package batch
