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

// Package handshake implements DSHP v1 (spec §4.7), the TLV
// request/response exchange that negotiates a cipher, derives a shared
// key, and creates the session a Stream attaches to.
package handshake

import (
	"encoding/binary"

	libcrypto "github.com/sabouaram/streamcore/crypto"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/tlv"
)

// Magic and Version are fixed constants every DSHP message carries;
// VersionMajorMask isolates the byte compared for compatibility.
const (
	Magic   uint32 = 0xDA4A1A48
	Version uint32 = 0x01000000

	VersionMajorMask uint32 = 0xFF000000
)

// MessageType tags a DSHP message (spec §4.7).
type MessageType uint16

const (
	MsgHandshakeRequest MessageType = iota + 1
	MsgHandshakeResponse
	MsgSessionCreate
	MsgSessionCreateResponse
	MsgError
	MsgKeepalive
)

// TLV type ids (spec §6 "DSHP TLV types").
const (
	TypeMagic          tlv.Type = 0x0001
	TypeVersion        tlv.Type = 0x0002
	TypeMessageType    tlv.Type = 0x0003
	TypeStatus         tlv.Type = 0x0004
	TypeSessionID      tlv.Type = 0x0005
	TypeSessionTimeout tlv.Type = 0x0006

	TypeEncType          tlv.Type = 0x0010
	TypePKeyExchangeType tlv.Type = 0x0011
	TypePKeyExchangeSize tlv.Type = 0x0012
	TypeBlockKeySize     tlv.Type = 0x0013

	TypeAlicePubKey    tlv.Type = 0x0020
	TypeBobPubKey      tlv.Type = 0x0021
	TypeAliceSignature tlv.Type = 0x0022

	TypeChannels tlv.Type = 0x0030

	TypeErrorCode    tlv.Type = 0x0040
	TypeErrorMessage tlv.Type = 0x0041
)

const (
	ErrBadMagic        = liberr.MinPkgHandshake + 1
	ErrVersionMismatch = liberr.MinPkgHandshake + 2
	ErrMissingField    = liberr.MinPkgHandshake + 3
	ErrZeroLengthKey   = liberr.MinPkgHandshake + 4
	ErrWrongState      = liberr.MinPkgHandshake + 5
	ErrRemoteRejected  = liberr.MinPkgHandshake + 6
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrBadMagic:        "DSHP magic mismatch",
		ErrVersionMismatch: "DSHP major version mismatch",
		ErrMissingField:    "DSHP message missing a required TLV field",
		ErrZeroLengthKey:   "DSHP key exchange field has zero length",
		ErrWrongState:      "DSHP message received out of state-machine order",
		ErrRemoteRejected:  "peer rejected the DSHP exchange",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
		liberr.RegisterCategory(c, liberr.CategoryProtocol)
	}
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func decodeU32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, liberr.New(ErrMissingField, "")
	}
	return binary.BigEndian.Uint32(v), nil
}

// Request is the fields of a handshake_request message (spec §4.7).
type Request struct {
	EncType          uint8
	KEMType          uint8
	KEMSize          uint32
	BlockKeySize     uint32
	AlicePubKey      []byte
	AliceSignature   []byte // optional
}

// EncodeRequest renders r as a DSHP handshake_request TLV bundle.
func EncodeRequest(r Request) ([]byte, error) {
	recs := []tlv.Record{
		{Type: TypeMagic, Value: u32(Magic)},
		{Type: TypeVersion, Value: u32(Version)},
		{Type: TypeMessageType, Value: []byte{0, byte(MsgHandshakeRequest)}},
		{Type: TypeEncType, Value: []byte{r.EncType}},
		{Type: TypePKeyExchangeType, Value: []byte{r.KEMType}},
		{Type: TypePKeyExchangeSize, Value: u32(r.KEMSize)},
		{Type: TypeBlockKeySize, Value: u32(r.BlockKeySize)},
		{Type: TypeAlicePubKey, Value: r.AlicePubKey},
	}
	if len(r.AliceSignature) > 0 {
		recs = append(recs, tlv.Record{Type: TypeAliceSignature, Value: r.AliceSignature})
	}
	return tlv.EncodeBundle(recs)
}

// DecodeRequest parses and validates a handshake_request bundle. It
// rejects a magic mismatch, an incompatible version, a missing required
// field and a zero-length alice_pub_key. It does not check the cipher or
// KEM ids: an unknown EncType is accepted, and a KEM id is only rejected
// later, by HandleRequest's registry lookup.
func DecodeRequest(buf []byte) (Request, error) {
	recs, err := tlv.DecodeBundle(buf)
	if err != nil {
		return Request{}, err
	}

	if err := checkMagicVersion(recs); err != nil {
		return Request{}, err
	}

	var r Request
	if rec, ok := tlv.Find(recs, TypeEncType); ok && len(rec.Value) == 1 {
		r.EncType = rec.Value[0]
	} else {
		return Request{}, liberr.New(ErrMissingField, "enc_type")
	}
	if rec, ok := tlv.Find(recs, TypePKeyExchangeType); ok && len(rec.Value) == 1 {
		r.KEMType = rec.Value[0]
	} else {
		return Request{}, liberr.New(ErrMissingField, "pkey_exchange_type")
	}
	if rec, ok := tlv.Find(recs, TypePKeyExchangeSize); ok {
		if r.KEMSize, err = decodeU32(rec.Value); err != nil {
			return Request{}, err
		}
	}
	if rec, ok := tlv.Find(recs, TypeBlockKeySize); ok {
		if r.BlockKeySize, err = decodeU32(rec.Value); err != nil {
			return Request{}, err
		}
	}
	if rec, ok := tlv.Find(recs, TypeAlicePubKey); ok {
		if len(rec.Value) == 0 {
			return Request{}, liberr.New(ErrZeroLengthKey, "alice_pub_key")
		}
		r.AlicePubKey = rec.Value
	} else {
		return Request{}, liberr.New(ErrMissingField, "alice_pub_key")
	}
	if rec, ok := tlv.Find(recs, TypeAliceSignature); ok {
		r.AliceSignature = rec.Value
	}
	return r, nil
}

func checkMagicVersion(recs []tlv.Record) error {
	rec, ok := tlv.Find(recs, TypeMagic)
	if !ok {
		return liberr.New(ErrMissingField, "magic")
	}
	magic, err := decodeU32(rec.Value)
	if err != nil {
		return err
	}
	if magic != Magic {
		return liberr.New(ErrBadMagic, "")
	}

	rec, ok = tlv.Find(recs, TypeVersion)
	if !ok {
		return liberr.New(ErrMissingField, "version")
	}
	version, err := decodeU32(rec.Value)
	if err != nil {
		return err
	}
	if version&VersionMajorMask != Version&VersionMajorMask {
		return liberr.New(ErrVersionMismatch, "")
	}
	return nil
}

// Response is the fields of a handshake_response message.
type Response struct {
	Status         uint8
	SessionID      uint32
	SessionTimeout uint32 // 0 if absent
	BobPubKey      []byte
	ErrorCode      uint32
	ErrorMessage   string
}

// EncodeResponse renders resp as a DSHP handshake_response (or, when
// Status != 0, an error) TLV bundle.
func EncodeResponse(resp Response) ([]byte, error) {
	recs := []tlv.Record{
		{Type: TypeMagic, Value: u32(Magic)},
		{Type: TypeVersion, Value: u32(Version)},
		{Type: TypeMessageType, Value: []byte{0, byte(MsgHandshakeResponse)}},
		{Type: TypeStatus, Value: []byte{resp.Status}},
	}
	if resp.Status == 0 {
		recs = append(recs,
			tlv.Record{Type: TypeSessionID, Value: u32(resp.SessionID)},
			tlv.Record{Type: TypeBobPubKey, Value: resp.BobPubKey},
		)
		if resp.SessionTimeout > 0 {
			recs = append(recs, tlv.Record{Type: TypeSessionTimeout, Value: u32(resp.SessionTimeout)})
		}
	} else {
		recs = append(recs,
			tlv.Record{Type: TypeErrorCode, Value: u32(resp.ErrorCode)},
			tlv.Record{Type: TypeErrorMessage, Value: []byte(resp.ErrorMessage)},
		)
	}
	return tlv.EncodeBundle(recs)
}

// DecodeResponse parses a handshake_response (or error) bundle.
func DecodeResponse(buf []byte) (Response, error) {
	recs, err := tlv.DecodeBundle(buf)
	if err != nil {
		return Response{}, err
	}
	if err := checkMagicVersion(recs); err != nil {
		return Response{}, err
	}

	var resp Response
	if rec, ok := tlv.Find(recs, TypeStatus); ok && len(rec.Value) == 1 {
		resp.Status = rec.Value[0]
	} else {
		return Response{}, liberr.New(ErrMissingField, "status")
	}

	if resp.Status == 0 {
		if rec, ok := tlv.Find(recs, TypeSessionID); ok {
			if resp.SessionID, err = decodeU32(rec.Value); err != nil {
				return Response{}, err
			}
		}
		if rec, ok := tlv.Find(recs, TypeBobPubKey); ok {
			resp.BobPubKey = rec.Value
		}
		if rec, ok := tlv.Find(recs, TypeSessionTimeout); ok {
			if resp.SessionTimeout, err = decodeU32(rec.Value); err != nil {
				return Response{}, err
			}
		}
		return resp, nil
	}

	if rec, ok := tlv.Find(recs, TypeErrorCode); ok {
		resp.ErrorCode, _ = decodeU32(rec.Value)
	}
	if rec, ok := tlv.Find(recs, TypeErrorMessage); ok {
		resp.ErrorMessage = string(rec.Value)
	}
	return resp, liberr.New(ErrRemoteRejected, resp.ErrorMessage)
}

// SessionCreate is the post-handshake session_create message.
type SessionCreate struct {
	Channels    string // comma/pipe-joined channel-id list, spec §4.7
	EncType     uint8
	EncKeySize  uint32
}

func EncodeSessionCreate(sc SessionCreate) ([]byte, error) {
	return tlv.EncodeBundle([]tlv.Record{
		{Type: TypeMagic, Value: u32(Magic)},
		{Type: TypeVersion, Value: u32(Version)},
		{Type: TypeMessageType, Value: []byte{0, byte(MsgSessionCreate)}},
		{Type: TypeChannels, Value: []byte(sc.Channels)},
		{Type: TypeEncType, Value: []byte{sc.EncType}},
		{Type: TypeBlockKeySize, Value: u32(sc.EncKeySize)},
	})
}

func DecodeSessionCreate(buf []byte) (SessionCreate, error) {
	recs, err := tlv.DecodeBundle(buf)
	if err != nil {
		return SessionCreate{}, err
	}
	if err := checkMagicVersion(recs); err != nil {
		return SessionCreate{}, err
	}
	var sc SessionCreate
	if rec, ok := tlv.Find(recs, TypeChannels); ok {
		sc.Channels = string(rec.Value)
	} else {
		return SessionCreate{}, liberr.New(ErrMissingField, "channels")
	}
	if rec, ok := tlv.Find(recs, TypeEncType); ok && len(rec.Value) == 1 {
		sc.EncType = rec.Value[0]
	}
	if rec, ok := tlv.Find(recs, TypeBlockKeySize); ok {
		sc.EncKeySize, _ = decodeU32(rec.Value)
	}
	return sc, nil
}

// SessionCreateResponse is Bob's reply to session_create.
type SessionCreateResponse struct {
	Status       uint8
	SessionID    uint32
	ErrorCode    uint32
	ErrorMessage string
}

func EncodeSessionCreateResponse(r SessionCreateResponse) ([]byte, error) {
	recs := []tlv.Record{
		{Type: TypeMagic, Value: u32(Magic)},
		{Type: TypeVersion, Value: u32(Version)},
		{Type: TypeMessageType, Value: []byte{0, byte(MsgSessionCreateResponse)}},
		{Type: TypeStatus, Value: []byte{r.Status}},
	}
	if r.Status == 0 {
		recs = append(recs, tlv.Record{Type: TypeSessionID, Value: u32(r.SessionID)})
	} else {
		recs = append(recs,
			tlv.Record{Type: TypeErrorCode, Value: u32(r.ErrorCode)},
			tlv.Record{Type: TypeErrorMessage, Value: []byte(r.ErrorMessage)},
		)
	}
	return tlv.EncodeBundle(recs)
}

func DecodeSessionCreateResponse(buf []byte) (SessionCreateResponse, error) {
	recs, err := tlv.DecodeBundle(buf)
	if err != nil {
		return SessionCreateResponse{}, err
	}
	if err := checkMagicVersion(recs); err != nil {
		return SessionCreateResponse{}, err
	}
	var r SessionCreateResponse
	if rec, ok := tlv.Find(recs, TypeStatus); ok && len(rec.Value) == 1 {
		r.Status = rec.Value[0]
	}
	if r.Status == 0 {
		if rec, ok := tlv.Find(recs, TypeSessionID); ok {
			r.SessionID, _ = decodeU32(rec.Value)
		}
		return r, nil
	}
	if rec, ok := tlv.Find(recs, TypeErrorCode); ok {
		r.ErrorCode, _ = decodeU32(rec.Value)
	}
	if rec, ok := tlv.Find(recs, TypeErrorMessage); ok {
		r.ErrorMessage = string(rec.Value)
	}
	return r, liberr.New(ErrRemoteRejected, r.ErrorMessage)
}

// AcceptancePolicy lets an application veto an otherwise-valid request
// before a session is derived (spec §9 open question: "the core should
// expose a hook for higher-level acceptance rather than bake a policy").
// A nil policy accepts everything.
type AcceptancePolicy func(req Request) error

// State is the server-side DSHP state machine (spec §4.7).
type State uint8

const (
	StateExpectRequest State = iota
	StateExpectSessionCreate
	StateStreaming
	StateFailed
)

// Server drives the server side of one DSHP exchange across its three
// states, deriving the shared key via registry once the request is
// accepted.
type Server struct {
	state    State
	registry *libcrypto.Registry
	policy   AcceptancePolicy
	kem      libcrypto.KEM

	SessionID uint32
	Key       []byte
	Channels  string
	EncType   uint8
	KEMType   uint8
}

// NewServer builds a Server. The exchange's session id is not minted
// here: the caller passes it to HandleRequest.
func NewServer(registry *libcrypto.Registry, policy AcceptancePolicy) *Server {
	return &Server{state: StateExpectRequest, registry: registry, policy: policy}
}

// HandleRequest consumes a handshake_request and returns the encoded
// response to send back. On any protocol violation it transitions to
// StateFailed and returns an error-status response instead of an error
// return value, mirroring DSHP's "emit error response... and close the
// descriptor" rule: the caller is expected to close after sending.
func (s *Server) HandleRequest(buf []byte, sessionID uint32) ([]byte, error) {
	if s.state != StateExpectRequest {
		return s.fail(liberr.New(ErrWrongState, ""))
	}

	req, err := DecodeRequest(buf)
	if err != nil {
		return s.fail(err)
	}
	if s.policy != nil {
		if err := s.policy(req); err != nil {
			return s.fail(err)
		}
	}

	kem, err := s.registry.KEM(req.KEMType)
	if err != nil {
		return s.fail(err)
	}
	s.kem = kem

	bobPub, shared, err := kem.Encapsulate(req.AlicePubKey)
	if err != nil {
		return s.fail(err)
	}

	s.Key = shared
	s.SessionID = sessionID
	s.EncType = req.EncType
	s.KEMType = req.KEMType
	s.state = StateExpectSessionCreate

	resp, err := EncodeResponse(Response{Status: 0, SessionID: sessionID, BobPubKey: bobPub})
	return resp, err
}

// HandleSessionCreate consumes a session_create message and returns the
// encoded session_create_response. On success the state transitions to
// StateStreaming.
func (s *Server) HandleSessionCreate(buf []byte) ([]byte, error) {
	if s.state != StateExpectSessionCreate {
		return s.fail2(liberr.New(ErrWrongState, ""))
	}

	sc, err := DecodeSessionCreate(buf)
	if err != nil {
		return s.fail2(err)
	}

	s.Channels = sc.Channels
	s.state = StateStreaming

	return EncodeSessionCreateResponse(SessionCreateResponse{Status: 0, SessionID: s.SessionID})
}

func (s *Server) fail(cause error) ([]byte, error) {
	s.state = StateFailed
	code := uint32(liberr.Make(cause).GetCode())
	resp, encErr := EncodeResponse(Response{Status: 1, ErrorCode: code, ErrorMessage: cause.Error()})
	if encErr != nil {
		return nil, encErr
	}
	return resp, cause
}

func (s *Server) fail2(cause error) ([]byte, error) {
	s.state = StateFailed
	code := uint32(liberr.Make(cause).GetCode())
	resp, encErr := EncodeSessionCreateResponse(SessionCreateResponse{Status: 1, ErrorCode: code, ErrorMessage: cause.Error()})
	if encErr != nil {
		return nil, encErr
	}
	return resp, cause
}

// State returns the current state-machine position.
func (s *Server) State() State { return s.state }
