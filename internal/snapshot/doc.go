// Package snapshot implements the append-only checkpoint tree each sandbox
// owns. Nodes are addressed by track (child-index path from the root) and
// resolved positionally against persisted state rather than held pointers,
// so tracks stay valid across process restarts. Children keep creation order
// permanently: a node's sibling position never changes once created.
package snapshot
