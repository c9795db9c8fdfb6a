package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

const testResource = "http://relay.example/control/sess-1"

// mintRawEvent signs and encodes an event with the given kind/timestamp,
// bypassing MintProducerToken's fixed KindHTTPAuth/time.Now() so tests can
// construct the otherwise-invalid tokens the verifier must reject.
func mintRawEvent(t *testing.T, sk string, kind int, createdAt time.Time, resource string) string {
	t.Helper()
	pubkey, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("derive pubkey: %v", err)
	}
	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Kind:      kind,
		Tags:      nostr.Tags{{"u", resource}, {"method", "GET"}},
	}
	if err := event.Sign(sk); err != nil {
		t.Fatalf("sign event: %v", err)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestVerifyProducerTokenValid(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token, err := MintProducerToken(sk, testResource, "alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := &NostrTokenVerifier{}
	p, err := v.VerifyProducerToken(context.Background(), token, testResource)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Username != "alice" {
		t.Fatalf("username = %q, want alice", p.Username)
	}
}

func TestVerifyProducerTokenFallsBackToShortPubkey(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pubkey, _ := nostr.GetPublicKey(sk)
	token, err := MintProducerToken(sk, testResource, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := &NostrTokenVerifier{}
	p, err := v.VerifyProducerToken(context.Background(), token, testResource)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Username != pubkey[:8] {
		t.Fatalf("username = %q, want short pubkey %q", p.Username, pubkey[:8])
	}
}

func TestVerifyProducerTokenResourceMismatch(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token, err := MintProducerToken(sk, testResource, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), token, "http://relay.example/control/sess-2"); err == nil {
		t.Fatal("expected resource mismatch to fail verification")
	}
}

func TestVerifyProducerTokenWrongKind(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token := mintRawEvent(t, sk, 1, time.Now(), testResource)

	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), token, testResource); err == nil {
		t.Fatal("expected wrong event kind to fail verification")
	}
}

func TestVerifyProducerTokenStale(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token := mintRawEvent(t, sk, KindHTTPAuth, time.Now().Add(-10*time.Minute), testResource)

	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), token, testResource); err == nil {
		t.Fatal("expected stale token to fail verification")
	}
}

func TestVerifyProducerTokenFuture(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token := mintRawEvent(t, sk, KindHTTPAuth, time.Now().Add(10*time.Minute), testResource)

	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), token, testResource); err == nil {
		t.Fatal("expected future-dated token to fail verification")
	}
}

func TestVerifyProducerTokenBadSignature(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	token, err := MintProducerToken(sk, testResource, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	event.Content = "tampered"
	tampered, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	badToken := base64.StdEncoding.EncodeToString(tampered)

	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), badToken, testResource); err == nil {
		t.Fatal("expected tampered event to fail signature check")
	}
}

func TestVerifyProducerTokenBadEncoding(t *testing.T) {
	v := &NostrTokenVerifier{}
	if _, err := v.VerifyProducerToken(context.Background(), "not-base64!", testResource); err == nil {
		t.Fatal("expected invalid base64 to fail verification")
	}
}
