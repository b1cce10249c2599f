// Package resolver orders the workflows of a skill package so that every
// workflow comes after the workflows it depends on. It performs no I/O and
// reports cycles and undeclared dependencies as distinct errors.
package resolver
