// Package provider defines the pluggable processing unit contract shared by
// every pipeline stage category, the typed argument model, and the registry
// that tracks installed providers per category.
package provider
