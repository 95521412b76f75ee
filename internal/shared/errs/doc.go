// Package errs defines the error taxonomy shared by every engine component.
//
// Errors carry a Kind (what went wrong) and an Op (where). Host-level kinds
// (compile, pool_exhausted, execution_timeout, internal_fault) are returned
// to the dispatcher as structured failures. Buffer and encoding kinds
// (out_of_range, type_mismatch, released) are raised inside guest scripts
// as catchable exceptions.
//
// Match by kind with the sentinels:
//
//	if errors.Is(err, errs.ErrPoolExhausted) {
//		// back off and retry
//	}
package errs
