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

// Package crypto declares the opaque KEM+cipher+signature boundary spec
// §1 calls out as an external collaborator: the core consumes it through
// this narrow interface and never depends on a concrete primitive.
package crypto

import liberr "github.com/sabouaram/streamcore/errors"

const (
	ErrUnknownCipher = liberr.MinPkgCrypto + 1
	ErrUnknownKEM    = liberr.MinPkgCrypto + 2
	ErrDecrypt       = liberr.MinPkgCrypto + 3
	ErrBadSignature  = liberr.MinPkgCrypto + 4
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrUnknownCipher: "unknown symmetric cipher id",
		ErrUnknownKEM:    "unknown key-exchange id",
		ErrDecrypt:       "decryption or authentication failed",
		ErrBadSignature:  "signature verification failed",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryCrypto)
	}
}

// Cipher ids occupy the disjoint ranges spec §9 open-questions suggests:
// 0x00-0x3F symmetric, 0x40-0x7F KEM, 0x80-0xBF signature.
const (
	CipherNone             uint8 = 0x00
	CipherChaCha20Poly1305 uint8 = 0x01

	KEMNone   uint8 = 0x40
	KEMX25519 uint8 = 0x41
	KEMKyber512 uint8 = 0x42

	SigNone uint8 = 0x80
)

// KEM is the key-exchange half of the opaque interface: Alice generates a
// keypair, Bob encapsulates against Alice's public key, both derive the
// same shared secret.
type KEM interface {
	// ID returns this KEM's wire identifier (one of the KEM* constants,
	// or an application-assigned value in the unreserved range).
	ID() uint8

	// GenerateKeypair returns a fresh (public, private) keypair.
	GenerateKeypair() (pub, priv []byte, err error)

	// Encapsulate derives a shared secret against peerPub, returning the
	// value to send back to the peer (e.g. an ephemeral public key) and
	// the shared secret.
	Encapsulate(peerPub []byte) (toPeer, shared []byte, err error)

	// Decapsulate recovers the shared secret from the peer's response
	// using the local private key.
	Decapsulate(priv, fromPeer []byte) (shared []byte, err error)
}

// AEAD is the symmetric cipher half: authenticated encryption with
// associated data, keyed by the KEM-derived shared secret.
type AEAD interface {
	// ID returns this cipher's wire identifier.
	ID() uint8

	// Seal encrypts and authenticates plaintext under key, returning
	// ciphertext || tag (and any nonce needed to decrypt, prefixed or
	// appended per the implementation's own framing).
	Seal(key, plaintext []byte) (ciphertext []byte, err error)

	// Open authenticates and decrypts ciphertext produced by Seal.
	// Returns ErrDecrypt on authentication failure.
	Open(key, ciphertext []byte) (plaintext []byte, err error)

	// KeySize reports the symmetric key length this cipher expects.
	KeySize() int
}

// Signer is the optional signature half (DSHP's alice_signature, spec
// §4.7); a permissive default exists so unregistered applications are
// not forced to implement it (spec §9 open question).
type Signer interface {
	ID() uint8
	Sign(priv, message []byte) (sig []byte, err error)
	Verify(pub, message, sig []byte) error
}

// Registry resolves wire cipher/KEM ids to implementations, analogous to
// the transport registry (spec §4.6) but for crypto primitives.
type Registry struct {
	kems    map[uint8]KEM
	ciphers map[uint8]AEAD
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kems: make(map[uint8]KEM), ciphers: make(map[uint8]AEAD)}
}

// RegisterKEM adds a KEM implementation, keyed by its own ID().
func (r *Registry) RegisterKEM(k KEM) {
	r.kems[k.ID()] = k
}

// RegisterCipher adds an AEAD implementation, keyed by its own ID().
func (r *Registry) RegisterCipher(c AEAD) {
	r.ciphers[c.ID()] = c
}

// KEM returns the registered KEM for id, or an error if unknown.
func (r *Registry) KEM(id uint8) (KEM, error) {
	if k, ok := r.kems[id]; ok {
		return k, nil
	}
	return nil, liberr.New(ErrUnknownKEM, "")
}

// Cipher returns the registered AEAD for id, or an error if unknown.
func (r *Registry) Cipher(id uint8) (AEAD, error) {
	if c, ok := r.ciphers[id]; ok {
		return c, nil
	}
	return nil, liberr.New(ErrUnknownCipher, "")
}
