// Package handle holds the stateful helpers handed to guest scripts: byte
// iterators and the streaming multipart encoder.
//
// Every handle carries its own cursor. There is no table keyed by handle
// identity, so two handles over the same buffer never interfere and an
// abandoned handle is collected like any other value.
package handle
