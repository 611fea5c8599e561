// Package textutil sanitizes user-supplied project, sandbox, and artifact
// names for use as workspace directory tokens and archive entry names.
package textutil
