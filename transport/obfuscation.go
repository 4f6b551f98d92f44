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

package transport

import (
	"github.com/sabouaram/streamcore/crypt"
)

// AEADObfuscation is the default ObfuscationEngine (spec §4.6): it wraps
// a transport's bytes in an AES-GCM envelope so they no longer resemble
// the plain framed wire format to a passive observer. apply/remove are
// each other's inverse by construction of AES-GCM seal/open.
type AEADObfuscation struct {
	c crypt.Crypt
}

// NewAEADObfuscation builds an obfuscation engine from a 32-byte key and
// 12-byte nonce, reusing the AES-GCM codec already carried for at-rest
// secret encryption elsewhere in this module.
func NewAEADObfuscation(key [32]byte, nonce [12]byte) (*AEADObfuscation, error) {
	c, err := crypt.New(key, nonce)
	if err != nil {
		return nil, err
	}
	return &AEADObfuscation{c: c}, nil
}

// Apply seals plain under the configured key (spec §4.6 ObfuscationEngine.apply).
func (o *AEADObfuscation) Apply(plain []byte) ([]byte, error) {
	return o.c.Encode(plain), nil
}

// Remove opens a buffer produced by Apply (spec §4.6 ObfuscationEngine.remove).
func (o *AEADObfuscation) Remove(obfuscated []byte) ([]byte, error) {
	return o.c.Decode(obfuscated)
}

// IdentityObfuscation is a no-op engine (spec §8 scenario 6: "attach an
// identity obfuscation engine... apply and remove are identity"), used to
// exercise the write_obfuscated/read_deobfuscated seam without changing
// wire bytes.
type IdentityObfuscation struct{}

func (IdentityObfuscation) Apply(plain []byte) ([]byte, error)        { return plain, nil }
func (IdentityObfuscation) Remove(obfuscated []byte) ([]byte, error) { return obfuscated, nil }
