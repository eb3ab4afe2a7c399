package link

import (
	"bytes"
	"context"
	"testing"
)

func sealedPair(t *testing.T, secretA, secretB string) (*Sealed, *Sealed, *captureHandler) {
	t.Helper()
	a, b := NewPair()

	sa, err := Seal(a, []byte(secretA))
	if err != nil {
		t.Fatalf("Seal a: %v", err)
	}
	sb, err := Seal(b, []byte(secretB))
	if err != nil {
		t.Fatalf("Seal b: %v", err)
	}

	h := &captureHandler{}
	sb.SetHandler(h)
	return sa, sb, h
}

func TestSealedRoundTrip(t *testing.T) {
	sa, _, h := sealedPair(t, "shared-secret", "shared-secret")
	h.reply = []byte("plain-reply")

	reply, err := sa.SendInteractive(context.Background(), []byte("plain-request"))
	if err != nil {
		t.Fatalf("SendInteractive: %v", err)
	}
	if string(reply) != "plain-reply" {
		t.Errorf("reply = %q, want plain-reply", reply)
	}
	if got := string(h.messages[0]); got != "plain-request" {
		t.Errorf("peer saw %q, want decrypted plaintext", got)
	}
}

func TestSealedPayloadIsEncryptedOnTheWire(t *testing.T) {
	a, b := NewPair()
	sa, err := Seal(a, []byte("s"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Raw handler on the unsealed peer end sees ciphertext.
	raw := &captureHandler{reply: []byte("ignored")}
	b.SetHandler(raw)

	sa.SendFireAndForget(context.Background(), []byte("secret heart rate"))
	if len(raw.messages) != 1 {
		t.Fatal("expected one delivery")
	}
	if bytes.Contains(raw.messages[0], []byte("secret heart rate")) {
		t.Error("plaintext visible on the wire")
	}
}

func TestSealedWrongKeyDrops(t *testing.T) {
	sa, _, h := sealedPair(t, "secret-one", "secret-two")

	sa.SendFireAndForget(context.Background(), []byte("x"))
	if h.messageCount() != 0 {
		t.Error("payload sealed with the wrong key should never reach the handler")
	}
}

func TestSealedLatestState(t *testing.T) {
	sa, _, h := sealedPair(t, "k", "k")

	if err := sa.UpdateLatestState(context.Background(), []byte("state")); err != nil {
		t.Fatalf("UpdateLatestState: %v", err)
	}
	if got := string(h.lastState()); got != "state" {
		t.Errorf("state = %q, want decrypted plaintext", got)
	}
}
