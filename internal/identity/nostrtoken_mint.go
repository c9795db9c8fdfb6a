package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// MintProducerToken signs a NIP-98 HTTP Auth event with sk and returns the
// base64 token a producer sends as its control-channel bearer credential.
// username, if set, is carried as a "username" tag so the relay doesn't have
// to fall back to the pubkey's short form.
func MintProducerToken(sk, resource, username string) (string, error) {
	pubkey, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", fmt.Errorf("derive pubkey: %w", err)
	}

	event := nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindHTTPAuth,
		Tags:      nostr.Tags{{"u", resource}, {"method", "GET"}},
		Content:   "",
	}
	if username != "" {
		event.Tags = append(event.Tags, nostr.Tag{"username", username})
	}

	if err := event.Sign(sk); err != nil {
		return "", fmt.Errorf("sign event: %w", err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
