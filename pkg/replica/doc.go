// Package replica keeps a follower node in sync with its primary, by pulling change sets
// from the primary's changelog and importing them at the same serials.
package replica
