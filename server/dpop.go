/******************************************************************************
 *
 *  Description :
 *
 *    Construction of DPoP-bound credentials for outbound webhook calls: an
 *    access token binding the server's identity to the proof key, and a
 *    short-lived proof bound to the exact target URL and HTTP method. Both
 *    are ES256 JWTs signed with the server's key pair.
 *
 *****************************************************************************/

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/podgrid/notifier/server/store"
)

const (
	// Validity window of the access token.
	defaultTokenExpiry = 20 * time.Minute
	// Validity window of the request-bound proof.
	proofExpiry = time.Minute

	// Fixed literal included in the token audience alongside the target.
	tokenAudienceLiteral = "solid"
)

// keyStore holds the server's ES256 signing key pair. The key is loaded from
// a PEM file when one is configured, otherwise generated at first use and
// kept for the lifetime of the process.
type keyStore struct {
	once sync.Once
	// Path of a PEM-encoded EC private key, optional.
	keyFile string

	priv *ecdsa.PrivateKey
	err  error
}

// get returns the signing key pair, initializing it on first use.
func (ks *keyStore) get() (*ecdsa.PrivateKey, error) {
	ks.once.Do(func() {
		if ks.keyFile != "" {
			ks.priv, ks.err = loadECKey(ks.keyFile)
			return
		}
		ks.priv, ks.err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
	return ks.priv, ks.err
}

func loadECKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("failed to read private key: " + err.Error())
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("failed to parse private key: " + err.Error())
	}
	return priv, nil
}

// publicJWK renders the public half of the key as a JWK document.
func publicJWK(pub *ecdsa.PublicKey) map[string]string {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return map[string]string{
		"kty": "EC",
		"crv": "P-256",
		"alg": "ES256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// jwkThumbprint computes the RFC 7638 thumbprint of the public key: SHA-256
// over the JWK's required members in lexicographic order.
func jwkThumbprint(pub *ecdsa.PublicKey) string {
	jwk := publicJWK(pub)
	// Required members of an EC key, in order: crv, kty, x, y.
	canonical := `{"crv":"` + jwk["crv"] + `","kty":"` + jwk["kty"] +
		`","x":"` + jwk["x"] + `","y":"` + jwk["y"] + `"}`
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// accessToken builds a bearer token bound to the server's own identity. The
// audience includes the call target; the cnf claim carries the proof key's
// thumbprint so the receiver can tie it to the accompanying DPoP proof.
func accessToken(priv *ecdsa.PrivateKey, serverID, target string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": serverID,
		"sub": serverID,
		"aud": jwt.ClaimStrings{target, tokenAudienceLiteral},
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(expiry)),
		"jti": store.Store.GetUidString(),
		"cnf": map[string]string{"jkt": jwkThumbprint(&priv.PublicKey)},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(priv)
}

// dpopProof builds the request-bound proof: a short-lived JWT carrying the
// exact target URL and HTTP method, with the public key embedded inline in
// the header.
func dpopProof(priv *ecdsa.PrivateKey, htu, htm string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"htu": htu,
		"htm": htm,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(proofExpiry)),
		"jti": store.Store.GetUidString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = publicJWK(&priv.PublicKey)
	return token.SignedString(priv)
}
