// Package daemon assembles the stores, provider registry, worker pool,
// event bus, and job manager into a single lifecycle with flock-based
// locking to prevent multiple instances from sharing one data directory.
package daemon
