// Package bus routes provider completion and progress events to registered
// listeners by topic key. Events originate in-process from the scheduler or
// arrive from out-of-process workers over persistent duplex channels managed
// here. Fan-out is single-writer and best-effort: there is no durable broker
// behind it.
package bus
