package session

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/danmuck/mikrolink/internal/protocol"
	"github.com/danmuck/mikrolink/internal/protocol/frame"
	"github.com/danmuck/mikrolink/internal/protocol/reply"
)

var (
	ErrLoginRejected    = errors.New("session: login rejected")
	ErrInvalidChallenge = errors.New("session: invalid login challenge")
)

const (
	cmdLogin = "/login"

	// nonceHexLen is the length of the legacy login challenge.
	nonceHexLen = 32
)

// LoginMethod is the handshake variant the router accepted.
type LoginMethod int

const (
	LoginNone LoginMethod = iota
	// LoginModern is the plain name/password login of current routers.
	LoginModern
	// LoginLegacy is the MD5 challenge-response of routers before 6.43.
	LoginLegacy
)

func (m LoginMethod) String() string {
	switch m {
	case LoginModern:
		return "modern"
	case LoginLegacy:
		return "legacy"
	default:
		return "none"
	}
}

// SentenceConn is the part of frame.Conn the handshake needs.
type SentenceConn interface {
	WriteSentence(words []string, end frame.Terminator) error
	ReadSentence(authenticated bool) ([]string, error)
}

// Login runs the handshake on a freshly opened connection.
//
// The router either accepts the password outright ("!done" alone) or answers
// with a "ret" challenge, in which case a second /login with the computed
// response follows.
func Login(conn SentenceConn, user, password string) (LoginMethod, error) {
	err := conn.WriteSentence([]string{
		cmdLogin,
		protocol.AttributeWord("name", user),
		protocol.AttributeWord("password", password),
	}, frame.Close)
	if err != nil {
		return LoginNone, err
	}
	resp, err := conn.ReadSentence(false)
	if err != nil {
		return LoginNone, err
	}
	if len(resp) == 0 || resp[0] != protocol.WordDone {
		return LoginNone, rejected(resp)
	}
	if len(resp) == 1 {
		return LoginModern, nil
	}

	key, nonce := protocol.SplitAttribute(resp[1])
	if key != protocol.AttrRet || len(nonce) != nonceHexLen {
		return LoginNone, rejected(resp)
	}
	response, err := ChallengeResponse(password, nonce)
	if err != nil {
		return LoginNone, err
	}
	err = conn.WriteSentence([]string{
		cmdLogin,
		protocol.AttributeWord("name", user),
		protocol.AttributeWord("response", response),
	}, frame.Close)
	if err != nil {
		return LoginNone, err
	}
	resp, err = conn.ReadSentence(false)
	if err != nil {
		return LoginNone, err
	}
	if len(resp) > 0 && resp[0] == protocol.WordDone {
		return LoginLegacy, nil
	}
	return LoginNone, rejected(resp)
}

// ChallengeResponse computes the legacy login response:
// "00" + hex(md5(0x00 || password || hexdecode(nonce))).
func ChallengeResponse(password, nonceHex string) (string, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidChallenge, err)
	}
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(nonce)
	return "00" + hex.EncodeToString(h.Sum(nil)), nil
}

func rejected(resp []string) error {
	var cmdErr *reply.CommandError
	if errors.As(reply.Parse(resp).Err(), &cmdErr) && cmdErr.Message() != "" {
		return fmt.Errorf("%w: %s", ErrLoginRejected, cmdErr.Message())
	}
	if len(resp) == 0 {
		return fmt.Errorf("%w: empty reply", ErrLoginRejected)
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrLoginRejected, resp[0])
}
