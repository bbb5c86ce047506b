package ports

import "github.com/veltis-io/veltis-api/core"

// Tokenizer converts between sessions and bearer tokens
type Tokenizer interface {
	SessionToAccessToken(session *core.Session) (string, error)
	AccessTokenToSession(token string) (*core.Session, error)
}

// SignatureVerifier checks that signature over message was produced by address
type SignatureVerifier interface {
	VerifySignature(message, signature, address string) error
}
