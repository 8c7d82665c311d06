//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package accesslog provides interfaces and implementations for audit
// logging of authorization decisions.
//
// Decision records capture every authorization evaluated by the engine:
// the request identity, the principals and resource involved, the
// outcome per principal, and timing.  They create the audit trail for
// compliance, debugging, and security monitoring.
//
// # Built-in Implementations
//
// The package provides several stream implementations:
//   - [NewStdoutFactory]: Writes JSON records to stdout (default for development)
//   - [NewIoWriterFactory]: Writes JSON records to any io.Writer
//   - [NewNullFactory]: Discards all records (useful for testing or benchmarks)
//
// # Custom Implementations
//
// To implement a custom access log (e.g., for Kafka, database, or cloud logging):
//
//  1. Implement the [Factory] interface to create stream instances
//  2. Implement the [Stream] interface to handle record delivery
//  3. Use [options.WithAccessLog] when creating the policy engine
package accesslog

// Factory creates access log [Stream] instances.
//
// The factory pattern enables deferred initialization of streaming
// resources.  Early initialization (setting configuration defaults,
// validating options) should happen during factory construction; late
// initialization (opening connections, allocating buffers) belongs in
// [Factory.NewStream].  The engine guarantees configuration is fully
// loaded before NewStream is called.
type Factory interface {
	NewStream() (Stream, error)
}

// Stream is the interface for sending decision records to an audit
// destination.
//
// Implementations must be safe for concurrent use; the engine may call
// Send from multiple goroutines simultaneously.  Send must not retain
// or modify the record.  The engine logs send errors but does not
// retry; implementations handle retries internally when needed.
type Stream interface {
	Send(record *Record) error

	// Close releases any resources held by the stream, flushing
	// buffered records first.  The stream must not be used afterwards.
	Close()
}
