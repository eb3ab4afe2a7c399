package link

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed wraps a Link with ChaCha20-Poly1305 so biometric payloads never
// cross a broker in the clear. Both peers derive the key from the shared
// pairing secret.
type Sealed struct {
	inner Link
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// Seal wraps the link, deriving the cipher key from the pairing secret.
func Seal(inner Link, pairingSecret []byte) (*Sealed, error) {
	key := sha256.Sum256(pairingSecret)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("link: init cipher: %w", err)
	}
	return &Sealed{inner: inner, aead: aead}, nil
}

func (s *Sealed) Reachable() bool { return s.inner.Reachable() }

func (s *Sealed) SendInteractive(ctx context.Context, payload []byte) ([]byte, error) {
	sealed, err := s.seal(payload)
	if err != nil {
		return nil, err
	}
	reply, err := s.inner.SendInteractive(ctx, sealed)
	if err != nil {
		return nil, err
	}
	return s.open(reply)
}

func (s *Sealed) SendFireAndForget(ctx context.Context, payload []byte) error {
	sealed, err := s.seal(payload)
	if err != nil {
		return err
	}
	return s.inner.SendFireAndForget(ctx, sealed)
}

func (s *Sealed) UpdateLatestState(ctx context.Context, payload []byte) error {
	sealed, err := s.seal(payload)
	if err != nil {
		return err
	}
	return s.inner.UpdateLatestState(ctx, sealed)
}

// SetHandler registers h behind a decrypting shim. Payloads that fail to
// open are dropped; a peer with the wrong key gets nothing.
func (s *Sealed) SetHandler(h Handler) {
	s.inner.SetHandler(&sealedHandler{sealed: s, next: h})
}

func (s *Sealed) Close() error { return s.inner.Close() }

func (s *Sealed) seal(payload []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("link: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, payload, nil), nil
}

func (s *Sealed) open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("link: sealed payload too short")
	}
	nonce, box := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, fmt.Errorf("link: open payload: %w", err)
	}
	return plain, nil
}

type sealedHandler struct {
	sealed *Sealed
	next   Handler
}

func (h *sealedHandler) OnMessage(payload []byte) []byte {
	plain, err := h.sealed.open(payload)
	if err != nil {
		return nil
	}
	reply := h.next.OnMessage(plain)
	if reply == nil {
		return nil
	}
	sealed, err := h.sealed.seal(reply)
	if err != nil {
		return nil
	}
	return sealed
}

func (h *sealedHandler) OnLatestState(payload []byte) {
	plain, err := h.sealed.open(payload)
	if err != nil {
		return
	}
	h.next.OnLatestState(plain)
}
