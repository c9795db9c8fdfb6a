package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// KindHTTPAuth is the NIP-98 HTTP Auth event kind producers sign their
// control-channel bearer token with.
const KindHTTPAuth = 27235

// MaxTokenAge bounds how stale a signed producer token may be.
const MaxTokenAge = 5 * time.Minute

// NostrTokenVerifier verifies a producer's bearer token as a base64-encoded,
// NIP-98-shaped signed Nostr event: signature valid, kind 27235, recent, and
// carrying a "u" tag equal to the resource it's presented against (so a token
// minted for one session can't be replayed against another).
type NostrTokenVerifier struct{}

func (v *NostrTokenVerifier) VerifyProducerToken(_ context.Context, token, resource string) (Principal, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid token encoding: %w", err)
	}

	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Principal{}, fmt.Errorf("invalid token event: %w", err)
	}

	ok, err := event.CheckSignature()
	if err != nil {
		return Principal{}, fmt.Errorf("signature check failed: %w", err)
	}
	if !ok {
		return Principal{}, fmt.Errorf("invalid signature")
	}

	if event.Kind != KindHTTPAuth {
		return Principal{}, fmt.Errorf("unexpected event kind %d", event.Kind)
	}

	age := time.Since(event.CreatedAt.Time())
	if age > MaxTokenAge || age < -time.Minute {
		return Principal{}, fmt.Errorf("token expired or not yet valid")
	}

	if got := eventTag(&event, "u"); strings.TrimSuffix(got, "/") != strings.TrimSuffix(resource, "/") {
		return Principal{}, fmt.Errorf("token resource mismatch")
	}

	username := eventTag(&event, "username")
	if username == "" {
		username = shortPubkey(event.PubKey)
	}

	return Principal{Subject: event.PubKey, Username: username}, nil
}

func eventTag(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func shortPubkey(pubkey string) string {
	if len(pubkey) >= 8 {
		return pubkey[:8]
	}
	return pubkey
}
