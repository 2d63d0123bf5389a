package postgres

import (
	"testing"

	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/crypto"
)

func TestDecryptTargets_SkipsUndecryptableOwner(t *testing.T) {
	enc, err := crypto.NewEncryptor("01234567890123456789012345678901")
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	goodA, err := enc.Encrypt("token-a")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	goodC, err := enc.Encrypt("token-c")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	targets := []*subscription.Target{
		{Subscription: subscription.Subscription{ID: "sub-a", AccountID: "acc-1"}, OwnerID: "u-a", AccessToken: goodA},
		{Subscription: subscription.Subscription{ID: "sub-b", AccountID: "acc-2"}, OwnerID: "u-b", AccessToken: "corrupt"},
		{Subscription: subscription.Subscription{ID: "sub-c", AccountID: "acc-3"}, OwnerID: "u-c", AccessToken: goodC},
	}

	got := decryptTargets(targets, enc.Decrypt)

	if len(got) != 2 {
		t.Fatalf("decryptTargets() kept %d targets, want 2", len(got))
	}
	want := map[string]string{"sub-a": "token-a", "sub-c": "token-c"}
	for _, tg := range got {
		if want[tg.ID] != tg.AccessToken {
			t.Errorf("target %s token = %q, want %q", tg.ID, tg.AccessToken, want[tg.ID])
		}
	}
}

func TestDecryptTargets_Empty(t *testing.T) {
	got := decryptTargets(nil, func(s string) (string, error) { return s, nil })
	if len(got) != 0 {
		t.Errorf("decryptTargets(nil) = %v, want empty", got)
	}
}
