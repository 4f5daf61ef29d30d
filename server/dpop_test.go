package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/podgrid/notifier/server/store/types"
)

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal("failed to generate key:", err)
	}
	return priv
}

func parseSigned(t *testing.T, raw string, pub *ecdsa.PublicKey) *jwt.Token {
	t.Helper()

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		t.Fatal("failed to parse token:", err)
	}
	if !token.Valid {
		t.Fatal("token failed verification")
	}
	return token
}

func TestAccessToken(t *testing.T) {
	priv := newTestKey(t)
	const target = "https://client.example/inbox"

	raw, err := accessToken(priv, "https://pod.example", target, defaultTokenExpiry)
	if err != nil {
		t.Fatal("failed to build token:", err)
	}

	claims := parseSigned(t, raw, &priv.PublicKey).Claims.(jwt.MapClaims)
	if claims["iss"] != "https://pod.example" || claims["sub"] != "https://pod.example" {
		t.Errorf("unexpected issuer/subject: %v %v", claims["iss"], claims["sub"])
	}

	aud, _ := claims["aud"].([]any)
	if len(aud) != 2 || aud[0] != target || aud[1] != tokenAudienceLiteral {
		t.Errorf("unexpected audience: %v", claims["aud"])
	}

	// The cnf claim ties the token to the proof key.
	cnf, _ := claims["cnf"].(map[string]any)
	if cnf == nil || cnf["jkt"] != jwkThumbprint(&priv.PublicKey) {
		t.Errorf("unexpected cnf claim: %v", claims["cnf"])
	}

	if jti, _ := claims["jti"].(string); jti == "" {
		t.Error("jti is missing")
	}

	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	if exp == nil || iat == nil || exp.Sub(iat.Time) != defaultTokenExpiry {
		t.Errorf("unexpected validity window: iat=%v exp=%v", iat, exp)
	}
}

func TestDpopProof(t *testing.T) {
	priv := newTestKey(t)
	const target = "https://client.example/inbox"

	raw, err := dpopProof(priv, target, http.MethodPost)
	if err != nil {
		t.Fatal("failed to build proof:", err)
	}

	token := parseSigned(t, raw, &priv.PublicKey)
	if token.Header["typ"] != "dpop+jwt" {
		t.Errorf("unexpected typ header: %v", token.Header["typ"])
	}

	// The public key travels inline so the receiver can verify without a
	// lookup.
	jwk, _ := token.Header["jwk"].(map[string]any)
	want := publicJWK(&priv.PublicKey)
	if jwk == nil || jwk["kty"] != want["kty"] || jwk["x"] != want["x"] || jwk["y"] != want["y"] {
		t.Errorf("unexpected jwk header: %v", token.Header["jwk"])
	}

	claims := token.Claims.(jwt.MapClaims)
	if claims["htu"] != target || claims["htm"] != http.MethodPost {
		t.Errorf("unexpected htu/htm: %v %v", claims["htu"], claims["htm"])
	}
}

func TestJwkThumbprintStable(t *testing.T) {
	priv := newTestKey(t)
	if jwkThumbprint(&priv.PublicKey) != jwkThumbprint(&priv.PublicKey) {
		t.Error("thumbprint must be deterministic")
	}
	other := newTestKey(t)
	if jwkThumbprint(&priv.PublicKey) == jwkThumbprint(&other.PublicKey) {
		t.Error("distinct keys produced the same thumbprint")
	}
}

func TestWebhookEmit(t *testing.T) {
	type captured struct {
		contentType string
		authz       string
		proof       string
		body        []byte
	}
	calls := make(chan captured, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		calls <- captured{
			contentType: req.Header.Get("Content-Type"),
			authz:       req.Header.Get("Authorization"),
			proof:       req.Header.Get("DPoP"),
			body:        body,
		}
	}))
	defer srv.Close()

	keys := &keyStore{}
	e := newWebhookEmitter(keys, "http://localhost:6060", 0)
	ch := &types.Channel{
		ID:       channelRoute(chanWebhook) + "Abc123",
		Topic:    "http://ex/webhook-target",
		Type:     chanWebhook,
		Features: map[string]any{featSendTo: srv.URL},
	}

	if err := e.Emit(ch, []byte(`{"type":"Update"}`), mediaTypeJSONLD); err != nil {
		t.Fatal("emit failed:", err)
	}

	var got captured
	select {
	case got = <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("target never received the POST")
	}
	select {
	case <-calls:
		t.Fatal("expected exactly one POST")
	case <-time.After(50 * time.Millisecond):
	}

	if got.contentType != mediaTypeJSONLD {
		t.Errorf("unexpected content type: %s", got.contentType)
	}
	if string(got.body) != `{"type":"Update"}` {
		t.Errorf("unexpected body: %s", got.body)
	}
	if len(got.authz) < 6 || got.authz[:5] != "DPoP " {
		t.Fatalf("unexpected authorization header: %q", got.authz)
	}

	priv, err := keys.get()
	if err != nil {
		t.Fatal("no signing key:", err)
	}

	// The proof is bound to this exact request.
	proof := parseSigned(t, got.proof, &priv.PublicKey)
	claims := proof.Claims.(jwt.MapClaims)
	if claims["htu"] != srv.URL || claims["htm"] != http.MethodPost {
		t.Errorf("proof bound to wrong request: %v %v", claims["htu"], claims["htm"])
	}

	// The access token's audience names the target.
	token := parseSigned(t, got.authz[5:], &priv.PublicKey)
	aud, _ := token.Claims.(jwt.MapClaims)["aud"].([]any)
	if len(aud) != 2 || aud[0] != srv.URL {
		t.Errorf("unexpected token audience: %v", aud)
	}
}

func TestWebhookEmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		http.Error(wrt, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	e := newWebhookEmitter(&keyStore{}, "http://localhost:6060", 0)
	ch := &types.Channel{
		ID:       channelRoute(chanWebhook) + "Rej456",
		Type:     chanWebhook,
		Features: map[string]any{featSendTo: srv.URL},
	}

	// Fire and forget: a rejecting target is not a delivery error.
	if err := e.Emit(ch, []byte(`{}`), mediaTypeJSONLD); err != nil {
		t.Errorf("rejected POST must not surface as an error, got %v", err)
	}
}

func TestWebhookEmitNoTarget(t *testing.T) {
	e := newWebhookEmitter(&keyStore{}, "http://localhost:6060", 0)
	ch := &types.Channel{ID: channelRoute(chanWebhook) + "NoTgt", Type: chanWebhook}

	if err := e.Emit(ch, []byte(`{}`), mediaTypeJSONLD); err == nil {
		t.Error("expected error for a channel without a target URL")
	}
}
