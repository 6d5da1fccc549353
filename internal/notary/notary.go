// Package notary provides the external notary collaborator the spec treats
// as out of scope for the storage core, plus a reference implementation so
// the repository is runnable end to end. Notarization is kept a pure
// compute operation — it is injected into the repository as a dependency,
// never reached for as a process global, so any implementation (e.g. a
// hardware-backed signer) can replace it without touching the facade.
package notary

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cuemby/docrepo/internal/apperr"
	"github.com/cuemby/docrepo/internal/digest"
)

// Notary notarizes document bytes into citations and produces/validates the
// signed credential blob carried on every remote-driver request.
type Notary interface {
	// Notarize computes a citation for content. If tag is empty, a fresh
	// tag is minted; if version is empty, "v1" is used. It returns the
	// citation and an opaque signature blob callers may persist alongside
	// the content but never need to interpret themselves.
	Notarize(ctx context.Context, content []byte, tag, version string) (digest.Citation, []byte, error)

	// Digest returns the hex content digest ("sha256:<hex>") for content,
	// with no tag/version/signature involved — a pure hash.
	Digest(content []byte) string

	// NextVersion returns the version that follows current, used by
	// ReturnMessage to re-cite a returned message.
	NextVersion(current string) string

	// Credentials produces a signed blob identifying caller, carried as
	// the nebula-credentials header on HTTP-driver requests.
	Credentials(ctx context.Context, caller string) ([]byte, error)

	// Authenticate validates a credentials blob and returns the caller
	// identity it asserts, or a KindInvalidCredentials error.
	Authenticate(ctx context.Context, credentials []byte) (string, error)
}

// jwtNotary is the reference Notary: SHA-256 content digests, UUID tags,
// and compact JWTs for both citation signatures and caller credentials.
type jwtNotary struct {
	signingKey []byte
	issuer     string
}

// New creates a Notary signing with signingKey. issuer is embedded in every
// JWT's "iss" claim and checked on Authenticate.
func New(signingKey []byte, issuer string) Notary {
	return &jwtNotary{signingKey: signingKey, issuer: issuer}
}

func (n *jwtNotary) Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (n *jwtNotary) Notarize(ctx context.Context, content []byte, tag, version string) (digest.Citation, []byte, error) {
	if err := ctx.Err(); err != nil {
		return digest.Citation{}, nil, err
	}
	if tag == "" {
		tag = "#" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	if version == "" {
		version = "v1"
	}

	c := digest.Citation{
		Tag:     tag,
		Version: version,
		Digest:  n.Digest(content),
	}

	claims := jwt.MapClaims{
		"iss":     n.issuer,
		"tag":     c.Tag,
		"version": c.Version,
		"digest":  c.Digest,
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(n.signingKey)
	if err != nil {
		return digest.Citation{}, nil, apperr.New("notary", "Notarize", apperr.KindIO, nil, err)
	}

	return c, []byte(signed), nil
}

// NextVersion bumps a "vN" version string to "v(N+1)". Non-numeric or
// malformed versions fall back to appending ".1", which still sorts after
// the original under the domain's ordered-version convention.
func (n *jwtNotary) NextVersion(current string) string {
	trimmed := strings.TrimPrefix(current, "v")
	if num, err := strconv.Atoi(trimmed); err == nil {
		return "v" + strconv.Itoa(num+1)
	}
	return current + ".1"
}

// credentialsEncoding is the wire encoding of the nebula-credentials header
// required by spec.md/SPEC_FULL.md's wire format: the signed JWT is carried
// base-32 encoded, not in the JWT library's native base64url compact form.
var credentialsEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (n *jwtNotary) Credentials(ctx context.Context, caller string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{
		"iss":    n.issuer,
		"caller": caller,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(15 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(n.signingKey)
	if err != nil {
		return nil, apperr.New("notary", "Credentials", apperr.KindIO, nil, err)
	}
	return []byte(credentialsEncoding.EncodeToString([]byte(signed))), nil
}

func (n *jwtNotary) Authenticate(ctx context.Context, credentials []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := credentialsEncoding.DecodeString(string(credentials))
	if err != nil {
		return "", apperr.New("notary", "Authenticate", apperr.KindInvalidCredentials, nil, err)
	}
	token, err := jwt.Parse(string(raw), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return n.signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.New("notary", "Authenticate", apperr.KindInvalidCredentials, nil, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperr.New("notary", "Authenticate", apperr.KindInvalidCredentials, nil, nil)
	}
	caller, _ := claims["caller"].(string)
	if caller == "" {
		return "", apperr.New("notary", "Authenticate", apperr.KindInvalidCredentials, nil, nil)
	}
	return caller, nil
}
