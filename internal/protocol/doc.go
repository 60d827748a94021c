// Package protocol owns the router API wire contract.
//
// Ownership boundary:
// - variable-width word length prefix
// - control word and attribute word vocabulary
// - command parameter word encoding
package protocol
