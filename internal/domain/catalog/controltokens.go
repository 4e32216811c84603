package catalog

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ControlToken is one credential entry in the control-token catalog: a
// named, independently revocable token whose raw value is never stored,
// only a hash of it.
type ControlToken struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Hash    string `json:"hash"`
	Revoked bool   `json:"revoked"`
}

// ControlTokenCatalog is the rules payload for the control-token catalog:
// the only catalog type that carries credentials rather than policy
// rules, so unlike every other catalog it is verified twice — once by
// the signed-catalog envelope (Load[ControlTokenCatalog]) to prove the
// token list itself was not tampered with, and once per call by
// VerifyControlToken to prove the caller holds one of the tokens in it.
type ControlTokenCatalog struct {
	Tokens []ControlToken `json:"tokens"`
}

// ErrUnknownControlToken is returned when no entry in the catalog
// matches rawToken.
var ErrUnknownControlToken = errors.New("catalog: unknown or revoked control token")

// ErrUnknownHashType is returned when a stored hash is in neither
// supported format.
var ErrUnknownHashType = errors.New("catalog: control token hash is in an unrecognized format")

// argon2idParams mirrors OWASP's minimum recommended Argon2id cost.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashControlToken produces an Argon2id PHC-format hash suitable for a
// new ControlToken.Hash value.
func HashControlToken(rawToken string) (string, error) {
	return argon2id.CreateHash(rawToken, argon2idParams)
}

// VerifyControlToken checks rawToken against every non-revoked entry in
// the catalog and returns the matching token's ID.
func VerifyControlToken(cat ControlTokenCatalog, rawToken string) (id string, err error) {
	for _, tok := range cat.Tokens {
		if tok.Revoked {
			continue
		}
		match, err := verifyHash(rawToken, tok.Hash)
		if err != nil || !match {
			continue
		}
		return tok.ID, nil
	}
	return "", ErrUnknownControlToken
}

func verifyHash(rawToken, storedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return safeArgon2idCompare(rawToken, storedHash)
	case strings.HasPrefix(storedHash, "sha256:"):
		return constantTimeSHA256Equal(rawToken, strings.TrimPrefix(storedHash, "sha256:")), nil
	case len(storedHash) == 64 && isHexString(storedHash):
		return constantTimeSHA256Equal(rawToken, storedHash), nil
	default:
		return false, ErrUnknownHashType
	}
}

func constantTimeSHA256Equal(rawToken, expectedHex string) bool {
	sum := sha256.Sum256([]byte(rawToken))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedHex)) == 1
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameter strings
// (e.g. t=0), and a malformed catalog entry must fail closed, not crash
// the gate that checks it.
func safeArgon2idCompare(rawToken, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawToken, storedHash)
}
