// Package main is the scriptd command line: it submits a guest script to
// the execution engine and prints each result as one JSON line.
//
// Configuration:
//   - Environment variables (12-factor, see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Run a file with JSON input
//	scriptd -script job.js -input '{"n": 21}'
//
//	# Read the script from stdin, hand the input over as a Buffer
//	echo "input.toString('hex')" | scriptd -raw -input hello
//
//	# 100 concurrent identical submissions on 8 instances, metrics on :9090
//	scriptd -script job.js -repeat 100 -pool 8 -metrics :9090
//
// The process exits non-zero when any submission fails. SIGINT and SIGTERM
// cancel running executions and shut the engine down.
package main
