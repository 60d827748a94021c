// Package session owns router API session setup.
//
// Ownership boundary:
// - login handshake (plain and legacy challenge-response)
// - connect timeouts, attempt budget and retry backoff
// - client TLS settings
package session
