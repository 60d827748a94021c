// Package mikrolink is a client for the router API protocol.
//
// The protocol frames text words with a variable-width length prefix and
// groups them into sentences. A Client dials the router (optionally over
// TLS), logs in with either the current plain handshake or the legacy MD5
// challenge-response, and then runs one command at a time:
//
//	c := mikrolink.New(session.DefaultConfig(), mikrolink.WithLogger(log))
//	if err := c.Connect(ctx, "192.168.88.1", "admin", "secret", 8728, false); err != nil {
//		return err
//	}
//	defer c.Disconnect()
//	r, err := c.Exec("/interface/print", map[string]string{"?type": "ether"})
//
// Replies come back as reply.Reply values. A "!trap" is a normal reply shape;
// check r.Err(). Errors returned by the Client itself mean the session could
// not be set up or broke mid-exchange.
//
// A Client is not a connection pool. Commands are serialized and each one
// blocks until its reply is complete.
package mikrolink
