// Package workflow holds pipeline templates and the scheduler that executes
// them. A workflow is a forest of steps bound to providers through a
// processor table; the scheduler walks the forest depth-first against a
// sandbox's snapshot tree, creating one derived snapshot per completed step.
package workflow
