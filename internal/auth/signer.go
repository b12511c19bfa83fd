package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"hash"
	"strconv"
	"strings"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Header names carried by every signed request.
const (
	HeaderKeyID     = "KALSHI-ACCESS-KEY"
	HeaderTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderSignature = "KALSHI-ACCESS-SIGNATURE"
)

// MinKeyBits is the smallest RSA modulus the signer accepts.
const MinKeyBits = 2048

// Signer produces RSA-PSS signatures over the exchange's canonical message.
// It holds no mutable state and is safe for concurrent use.
type Signer struct {
	keyID   string
	key     *rsa.PrivateKey
	saltKey []byte
}

// NewSigner validates the key material up front so that a broken key fails
// before any request is attempted.
func NewSigner(creds *Credentials) (*Signer, error) {
	if creds == nil || creds.PrivateKey == nil {
		return nil, errs.New(errs.KindSigning, errs.WithMessage("private key is missing"))
	}
	if creds.KeyID == "" {
		return nil, errs.New(errs.KindSigning, errs.WithMessage("key id is missing"))
	}
	if err := creds.PrivateKey.Validate(); err != nil {
		return nil, errs.New(errs.KindSigning,
			errs.WithMessage("private key failed validation"),
			errs.WithCause(err),
		)
	}
	if bits := creds.PrivateKey.N.BitLen(); bits < MinKeyBits {
		return nil, errs.New(errs.KindSigning,
			errs.WithMessage("private key is "+strconv.Itoa(bits)+" bits, need at least "+strconv.Itoa(MinKeyBits)),
		)
	}

	saltKey := sha256.Sum256(append([]byte("kalshi-trade pss salt"), creds.PrivateKey.D.Bytes()...))
	return &Signer{
		keyID:   creds.KeyID,
		key:     creds.PrivateKey,
		saltKey: saltKey[:],
	}, nil
}

// KeyID returns the account key identifier sent in HeaderKeyID.
func (s *Signer) KeyID() string {
	return s.keyID
}

// PublicKey returns the verifying half of the signing key.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// CanonicalMessage builds the string the exchange verifies:
// timestamp_ms + METHOD + path, with no separators. The query string is not
// part of the signed path.
func CanonicalMessage(timestampMs int64, method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strconv.FormatInt(timestampMs, 10) + strings.ToUpper(method) + path
}

// Sign returns the base64 (standard encoding) RSA-PSS SHA-256 signature of
// the canonical message. The salt is derived from the key and the message,
// so identical inputs always produce the identical signature.
func (s *Signer) Sign(method, path string, timestampMs int64) (string, error) {
	hashed := sha256.Sum256([]byte(CanonicalMessage(timestampMs, method, path)))

	signature, err := rsa.SignPSS(
		newSaltReader(s.saltKey, hashed[:]),
		s.key,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", errs.New(errs.KindSigning,
			errs.WithMessage("sign message"),
			errs.WithCause(err),
		)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks a signature produced by Sign against the canonical message.
func Verify(pub *rsa.PublicKey, method, path string, timestampMs int64, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}
	hashed := sha256.Sum256([]byte(CanonicalMessage(timestampMs, method, path)))
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], raw,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

// saltReader expands HMAC-SHA256(key, counter || digest) into as many salt
// bytes as PSS asks for.
type saltReader struct {
	mac    hash.Hash
	digest []byte
	block  []byte
	ctr    uint32
}

func newSaltReader(key, digest []byte) *saltReader {
	return &saltReader{mac: hmac.New(sha256.New, key), digest: digest}
}

func (r *saltReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.block) == 0 {
			var ctr [4]byte
			binary.BigEndian.PutUint32(ctr[:], r.ctr)
			r.ctr++
			r.mac.Reset()
			r.mac.Write(ctr[:])
			r.mac.Write(r.digest)
			r.block = r.mac.Sum(nil)
		}
		k := copy(p[n:], r.block)
		r.block = r.block[k:]
		n += k
	}
	return n, nil
}
