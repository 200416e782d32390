package mqtt

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 required for SCRAM-SHA-1 compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMHash represents the hash algorithm used for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA1 uses SHA-1 (for legacy compatibility, not recommended for new deployments).
	SCRAMHashSHA1 SCRAMHash = iota
	// SCRAMHashSHA256 uses SHA-256 (recommended).
	SCRAMHashSHA256
	// SCRAMHashSHA512 uses SHA-512.
	SCRAMHashSHA512
)

// String returns the MQTT auth method name for this hash.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

func (h SCRAMHash) hashFunc() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

func (h SCRAMHash) keySize() int {
	switch h {
	case SCRAMHashSHA1:
		return 20
	case SCRAMHashSHA512:
		return 64
	default:
		return 32
	}
}

var (
	ErrSCRAMInvalidServerMessage = errors.New("invalid SCRAM server message")
	ErrSCRAMNonceMismatch        = errors.New("SCRAM server nonce does not extend client nonce")
	ErrSCRAMServerSignature      = errors.New("SCRAM server signature mismatch")
)

// SCRAMCredentials are the keys a server stores for one user.
type SCRAMCredentials struct {
	Hash       SCRAMHash
	Salt       []byte
	Iterations int

	// StoredKey is H(ClientKey) where ClientKey = HMAC(SaltedPassword, "Client Key").
	StoredKey []byte

	// ServerKey is HMAC(SaltedPassword, "Server Key").
	ServerKey []byte
}

// ComputeSCRAMCredentials derives the stored and server keys for a password.
func ComputeSCRAMCredentials(hashType SCRAMHash, password string, salt []byte, iterations int) *SCRAMCredentials {
	salted := pbkdf2.Key([]byte(password), salt, iterations, hashType.keySize(), hashType.hashFunc())
	clientKey := scramHMAC(hashType, salted, "Client Key")

	return &SCRAMCredentials{
		Hash:       hashType,
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  scramHash(hashType, clientKey),
		ServerKey:  scramHMAC(hashType, salted, "Server Key"),
	}
}

// GenerateSalt generates a random salt for SCRAM credential computation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// SCRAMClient authenticates with SCRAM (RFC 5802) over MQTT 5 enhanced
// authentication. Channel binding is not used.
type SCRAMClient struct {
	hash     SCRAMHash
	username string
	password string

	// nonce is overridable in tests.
	nonce func() (string, error)
}

// NewSCRAMClient returns a SCRAM authenticator for username and password.
func NewSCRAMClient(hashType SCRAMHash, username, password string) *SCRAMClient {
	return &SCRAMClient{
		hash:     hashType,
		username: username,
		password: password,
		nonce:    generateScramNonce,
	}
}

type scramClientState struct {
	clientFirstBare string
	clientNonce     string
	serverSignature []byte
}

func (c *SCRAMClient) AuthMethod() string { return c.hash.String() }

// AuthStart produces the client-first message.
func (c *SCRAMClient) AuthStart(_ context.Context) (*EnhancedAuthResult, error) {
	nonce, err := c.nonce()
	if err != nil {
		return nil, err
	}

	bare := "n=" + scramEscape(c.username) + ",r=" + nonce
	return &EnhancedAuthResult{
		AuthData: []byte("n,," + bare),
		State:    &scramClientState{clientFirstBare: bare, clientNonce: nonce},
	}, nil
}

// AuthContinue answers the server-first message with the client proof, or
// verifies the server-final signature when the server reports success.
func (c *SCRAMClient) AuthContinue(_ context.Context, authCtx *EnhancedAuthContext) (*EnhancedAuthResult, error) {
	st, ok := authCtx.State.(*scramClientState)
	if !ok {
		return nil, fmt.Errorf("%w: no exchange in progress", ErrSCRAMInvalidServerMessage)
	}

	if authCtx.ReasonCode == ReasonSuccess {
		return c.verifyServerFinal(st, string(authCtx.AuthData))
	}
	return c.clientFinal(st, string(authCtx.AuthData))
}

func (c *SCRAMClient) clientFinal(st *scramClientState, serverFirst string) (*EnhancedAuthResult, error) {
	attrs := scramAttributes(serverFirst)

	nonce := attrs["r"]
	if !strings.HasPrefix(nonce, st.clientNonce) || len(nonce) == len(st.clientNonce) {
		return nil, ErrSCRAMNonceMismatch
	}
	salt, err := base64.StdEncoding.DecodeString(attrs["s"])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrSCRAMInvalidServerMessage)
	}
	iterations, err := strconv.Atoi(attrs["i"])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("%w: bad iteration count", ErrSCRAMInvalidServerMessage)
	}

	salted := pbkdf2.Key([]byte(c.password), salt, iterations, c.hash.keySize(), c.hash.hashFunc())
	clientKey := scramHMAC(c.hash, salted, "Client Key")
	storedKey := scramHash(c.hash, clientKey)
	serverKey := scramHMAC(c.hash, salted, "Server Key")

	withoutProof := "c=biws,r=" + nonce
	authMessage := st.clientFirstBare + "," + serverFirst + "," + withoutProof

	signature := scramHMAC(c.hash, storedKey, authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ signature[i]
	}
	st.serverSignature = scramHMAC(c.hash, serverKey, authMessage)

	return &EnhancedAuthResult{
		AuthData: []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)),
		State:    st,
	}, nil
}

func (c *SCRAMClient) verifyServerFinal(st *scramClientState, serverFinal string) (*EnhancedAuthResult, error) {
	if st.serverSignature == nil {
		return nil, fmt.Errorf("%w: success before proof", ErrSCRAMInvalidServerMessage)
	}
	attrs := scramAttributes(serverFinal)
	if e, ok := attrs["e"]; ok {
		return nil, fmt.Errorf("%w: server error %q", ErrSCRAMInvalidServerMessage, e)
	}
	got, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil || !hmac.Equal(got, st.serverSignature) {
		return nil, ErrSCRAMServerSignature
	}
	return &EnhancedAuthResult{Done: true}, nil
}

func scramHMAC(h SCRAMHash, key []byte, msg string) []byte {
	mac := hmac.New(h.hashFunc(), key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func scramHash(h SCRAMHash, b []byte) []byte {
	hh := h.hashFunc()()
	hh.Write(b)
	return hh.Sum(nil)
}

// scramAttributes splits "k=v,k=v" messages. Values may contain '='.
func scramAttributes(msg string) map[string]string {
	attrs := make(map[string]string)
	for part := range strings.SplitSeq(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		attrs[part[:1]] = part[2:]
	}
	return attrs
}

func scramEscape(name string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(name)
}

func generateScramNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}
