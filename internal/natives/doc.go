/*
Package natives installs the host-backed globals guest scripts see: Buffer,
crypto, FormData and fetch.

A Binding is created per execution and bound to that execution's memory
scope, so every buffer a script allocates is released when the execution
ends. Natives never keep state in package-level tables; iterators, hash
states and form encoders live in closures on the objects handed to the
guest.

Failures reach guest code as catchable errors with Node-style codes:

	ERR_OUT_OF_RANGE       RangeError, bounds and size violations
	ERR_INVALID_ARG_TYPE   TypeError, wrong argument kind
	ERR_BUFFER_RELEASED    Error, access through a released view
	ERR_UNKNOWN_ENCODING   TypeError
	ERR_ACCESS_DENIED      fetch while network access is disabled
	ERR_CIRCUIT_OPEN       fetch to a host whose breaker is open

Hash algorithms come from a registry. RegisterHash adds one at init time:

	natives.RegisterHash("sha256d", newDoubleSHA256)

fetch runs the request to completion on the execution goroutine, under the
execution context, and returns an already settled promise. Requests are
rate limited, retried, and guarded by a circuit breaker per host.
*/
package natives
