package kernel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	base64URLPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	hexPattern       = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// Keypair is an ed25519 identity. PublicKey is base64url without padding,
// the form stored in author.value. Seed is the 32-byte private seed.
type Keypair struct {
	PublicKey string
	Seed      []byte
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (Keypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return Keypair{}, fmt.Errorf("generate seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return Keypair{PublicKey: toBase64URL(pub), Seed: seed}, nil
}

// NormalizePubkey accepts a 32-byte ed25519 public key encoded as hex,
// base64url, or standard base64 and returns it as unpadded base64url.
func NormalizePubkey(input string) (string, error) {
	raw, err := decodePubkey(strings.TrimSpace(input))
	if err != nil {
		return "", err
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", newError(ErrCodeAuthorInvalid, "Public key must be 32 bytes")
	}
	return toBase64URL(raw), nil
}

// NormalizePubkeyBytes encodes raw key bytes as unpadded base64url.
func NormalizePubkeyBytes(raw []byte) (string, error) {
	if len(raw) != ed25519.PublicKeySize {
		return "", newError(ErrCodeAuthorInvalid, "Public key must be 32 bytes")
	}
	return toBase64URL(raw), nil
}

func decodePubkey(s string) ([]byte, error) {
	if len(s)%2 == 0 && hexPattern.MatchString(s) {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, newError(ErrCodeAuthorInvalid, "Invalid hex public key")
		}
		return raw, nil
	}
	if raw, err := fromBase64URL(s); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, newError(ErrCodeAuthorInvalid, "Invalid public key encoding")
	}
	return raw, nil
}

func toBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func fromBase64URL(s string) ([]byte, error) {
	if !base64URLPattern.MatchString(s) {
		return nil, fmt.Errorf("invalid base64url characters")
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// SignObject validates obj, signs its canonical content with the 32-byte
// seed, and returns a copy carrying author, signature, and content_id.
// An existing content_id is kept as is.
func SignObject(obj Object, seed []byte) (Object, error) {
	if err := ValidateSchema(obj); err != nil {
		return nil, err
	}
	if err := ValidateInvariants(obj, nil); err != nil {
		return nil, err
	}
	if _, ok := obj.StringField("created_at"); !ok {
		return nil, newError(ErrCodeSchemaInvalid, "created_at is required before signing")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, newError(ErrCodeAuthorInvalid, "Private key must be 32 bytes")
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	canonical, err := CanonicalContent(obj)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, canonical)

	out := obj.Clone()
	out["author"] = map[string]any{"kind": "pubkey", "value": toBase64URL(pub)}
	out["signature"] = map[string]any{"alg": "ed25519", "value": toBase64URL(sig)}
	if obj.ContentID() == "" {
		id, err := ContentID(obj)
		if err != nil {
			return nil, err
		}
		out["content_id"] = id
	}
	return out, nil
}

// VerifySignature checks obj's ed25519 signature over its canonical content.
// With allowUnsigned, an object lacking signature or author passes.
func VerifySignature(obj Object, allowUnsigned bool) error {
	signature, hasSig := obj.ObjectField("signature")
	author, hasAuthor := obj.ObjectField("author")
	if !hasSig || !hasAuthor {
		if allowUnsigned {
			return nil
		}
		return newError(ErrCodeSignatureMissing, "Signature is required")
	}

	if kind, _ := author["kind"].(string); kind != "pubkey" {
		return newError(ErrCodeAuthorInvalid, "Unsupported author kind")
	}
	authorValue, ok := author.StringField("value")
	if !ok {
		return newError(ErrCodeAuthorInvalid, "Author value must be a non-empty string")
	}
	if alg, _ := signature["alg"].(string); alg != "ed25519" {
		return newError(ErrCodeSignatureInvalid, "Unsupported signature algorithm")
	}

	pubB64, err := NormalizePubkey(authorValue)
	if err != nil {
		return err
	}
	pub, err := fromBase64URL(pubB64)
	if err != nil {
		return newError(ErrCodeAuthorInvalid, "Invalid public key encoding")
	}

	sigValue, _ := signature["value"].(string)
	sig, err := fromBase64URL(sigValue)
	if err != nil {
		return newError(ErrCodeSignatureInvalid, "Invalid signature encoding")
	}
	if len(sig) != ed25519.SignatureSize {
		return newError(ErrCodeSignatureInvalid, "Invalid signature length")
	}

	canonical, err := CanonicalContent(obj)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), canonical, sig) {
		return newError(ErrCodeSignatureInvalid, "Signature does not match content")
	}
	return nil
}
