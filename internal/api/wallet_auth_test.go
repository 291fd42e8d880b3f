package api

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
)

type signed struct {
	addr, sig, msg string
}

func signAt(t *testing.T, s *signer, ts time.Time, nonce string) signed {
	t.Helper()
	msg := FormatAuthMessage(ts, nonce)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), s.key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return signed{addr: s.addr.Hex(), sig: "0x" + hex.EncodeToString(sig), msg: msg}
}

func TestVerifyInline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	auth := NewWalletAuth(5*time.Minute, clock)
	alice := newSigner(t)
	bob := newSigner(t)
	now := clock.Now()

	tests := []struct {
		name    string
		req     signed
		wantErr error
	}{
		{"missing headers", signed{}, ErrAuthMissing},
		{"expired", signAt(t, alice, now.Add(-6*time.Minute), "a"), ErrAuthExpired},
		{"too far ahead", signAt(t, alice, now.Add(2*time.Minute), "b"), ErrAuthExpired},
		{"no nonce", signAt(t, alice, now, ""), ErrAuthExpired},
		{"wrong signer", func() signed {
			s := signAt(t, bob, now, "c")
			s.addr = alice.addr.Hex()
			return s
		}(), ErrAuthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.VerifyInline(tt.req.addr, tt.req.sig, tt.req.msg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("bad prefix", func(t *testing.T) {
		s := signAt(t, alice, now, "d")
		if _, err := auth.VerifyInline(s.addr, s.sig, "other-auth:1"); err == nil {
			t.Fatal("expected error for foreign message format")
		}
	})
}

func TestVerifyInline_AcceptsOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	auth := NewWalletAuth(5*time.Minute, clock)
	alice := newSigner(t)
	s := signAt(t, alice, clock.Now(), "n1")

	got, err := auth.VerifyInline(s.addr, s.sig, s.msg)
	if err != nil {
		t.Fatalf("VerifyInline: %v", err)
	}
	if got != alice.addr {
		t.Fatalf("recovered %s, want %s", got.Hex(), alice.addr.Hex())
	}
	if _, err := auth.VerifyInline(s.addr, s.sig, s.msg); !errors.Is(err, ErrAuthReplayed) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	// expired entries are pruned; the message itself is then too old
	clock.Advance(6 * time.Minute)
	fresh := signAt(t, alice, clock.Now(), "n2")
	if _, err := auth.VerifyInline(fresh.addr, fresh.sig, fresh.msg); err != nil {
		t.Fatalf("fresh message rejected: %v", err)
	}
	auth.mu.Lock()
	n := len(auth.seen)
	auth.mu.Unlock()
	if n != 1 {
		t.Errorf("expected stale nonce pruned, %d remain", n)
	}
}

func TestVerifySignature_RejectsMalformed(t *testing.T) {
	alice := newSigner(t)
	for _, sig := range []string{"zz", "0x1234"} {
		if _, err := VerifySignature("m", sig, alice.addr.Hex()); err == nil {
			t.Errorf("expected error for signature %q", sig)
		}
	}
	if _, err := VerifySignature("m", "0x00", "not-an-address"); err == nil {
		t.Error("expected error for invalid address")
	}
}
