package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/vyrodovalexey/localrest/internal/util"
)

// apiKeyEntropyBytes is the amount of random input condensed into one key.
const apiKeyEntropyBytes = 128

// APIKeyLength is the length of a generated API key in hex characters.
const APIKeyLength = sha256.Size * 2

// APIKey returns a new 64-character lowercase hex API key.
func (g *Generator) APIKey() (string, error) {
	buf := make([]byte, apiKeyEntropyBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		cerr := util.NewCryptoError("read api key entropy", err)
		g.metrics.RecordCredentialGeneration(KindAPIKey, cerr)
		return "", cerr
	}

	sum := sha256.Sum256(buf)
	g.metrics.RecordCredentialGeneration(KindAPIKey, nil)
	g.logger.Debug("generated api key")

	return hex.EncodeToString(sum[:]), nil
}
