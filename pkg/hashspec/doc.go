// Package hashspec parses and produces checksum strings of the form
// "<algorithm>=<lowercase hex digest>", validates content against them
// and derives sharded directory names from their digest.
//
// The supported algorithms form a closed set: unknown names are rejected
// when parsing.
package hashspec
