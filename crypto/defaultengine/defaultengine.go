/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package defaultengine implements the default concrete binding for the
// crypto package's opaque KEM/AEAD interfaces: X25519 for key exchange
// and ChaCha20-Poly1305 for the symmetric cipher, both from
// golang.org/x/crypto (a teacher go.mod dependency, previously indirect
// via certificate handling, promoted to direct use here).
package defaultengine

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	libcrypto "github.com/sabouaram/streamcore/crypto"
	liberr "github.com/sabouaram/streamcore/errors"
)

// X25519 implements crypto.KEM using Curve25519 Diffie-Hellman. It is
// named X25519 rather than "Kyber512" because Kyber is a PQ KEM this
// module does not vendor; applications that negotiate KEMKyber512 over
// DSHP must register their own crypto.KEM under that id (handshake
// acceptance is independent of which ids this engine ships).
type X25519 struct{}

func (X25519) ID() uint8 { return libcrypto.KEMX25519 }

func (X25519) GenerateKeypair() (pub, priv []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Encapsulate generates an ephemeral keypair, returns the ephemeral
// public key (toPeer) and the shared secret derived against peerPub.
func (e X25519) Encapsulate(peerPub []byte) (toPeer, shared []byte, err error) {
	ephPub, ephPriv, err := e.GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}
	shared, err = curve25519.X25519(ephPriv, peerPub)
	if err != nil {
		return nil, nil, err
	}
	return ephPub, shared, nil
}

// Decapsulate derives the shared secret from the peer's ephemeral public
// key using the local long-term (or ephemeral) private key.
func (X25519) Decapsulate(priv, fromPeer []byte) (shared []byte, err error) {
	return curve25519.X25519(priv, fromPeer)
}

// ChaCha20Poly1305 implements crypto.AEAD. Seal/Open frame the nonce as
// a fixed-size prefix, since the stream codec treats cipher output as
// opaque bytes (spec §3 "ciphertext body").
type ChaCha20Poly1305 struct{}

func (ChaCha20Poly1305) ID() uint8    { return libcrypto.CipherChaCha20Poly1305 }
func (ChaCha20Poly1305) KeySize() int { return chacha20poly1305.KeySize }

func (c ChaCha20Poly1305) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

func (c ChaCha20Poly1305) Open(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, liberr.New(libcrypto.ErrDecrypt, "ciphertext shorter than nonce")
	}

	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, liberr.NewErrorTrace(libcrypto.ErrDecrypt, "authentication failed", "defaultengine.go", 0, err)
	}
	return plain, nil
}

// NewRegistry returns a crypto.Registry pre-populated with X25519 and
// ChaCha20-Poly1305, the default binding used when an application does
// not supply its own.
func NewRegistry() *libcrypto.Registry {
	r := libcrypto.NewRegistry()
	r.RegisterKEM(X25519{})
	r.RegisterCipher(ChaCha20Poly1305{})
	return r
}
