package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/backkem/zrtp/pkg/crypto"
)

var (
	testZRTPKey = bytes.Repeat([]byte{0x5a}, 16)
	testMACKey  = bytes.Repeat([]byte{0xa5}, 32)
)

func testHello() *Hello {
	h := &Hello{
		Version:           Version,
		HashAlgos:         []crypto.Algo{crypto.HashS256, crypto.HashS384},
		CipherAlgos:       []crypto.Algo{crypto.CipherAES1},
		AuthTagAlgos:      []crypto.Algo{crypto.AuthTagHS32, crypto.AuthTagHS80},
		KeyAgreementAlgos: []crypto.Algo{crypto.KeyAgreementX255, crypto.KeyAgreementDH3k, crypto.KeyAgreementMult},
		SASAlgos:          []crypto.Algo{crypto.SASB32},
		MiTM:              true,
	}
	copy(h.ClientID[:], "BZRTPv1.1")
	copy(h.ZID[:], "zid-0123abcd")
	h.H3[0] = 0x33
	return h
}

func testCommit(ka crypto.Algo) *Commit {
	c := &Commit{
		Hash:         crypto.HashS256,
		Cipher:       crypto.CipherAES1,
		AuthTag:      crypto.AuthTagHS32,
		KeyAgreement: ka,
		SAS:          crypto.SASB32,
	}
	copy(c.ZID[:], "zid-0123abcd")
	c.H2[31] = 0x22
	switch {
	case ka == crypto.KeyAgreementMult:
		c.Nonce[0] = 0x02
	case ka == crypto.KeyAgreementPrsh:
		c.Nonce[0] = 0x02
		c.KeyID[0] = 0x03
	case ka.IsKEM():
		c.HVI[0] = 0x01
		c.PublicKey = bytes.Repeat([]byte{0x04}, crypto.PublicValueLength(ka, crypto.PublicValueCommit))
	default:
		c.HVI[0] = 0x01
	}
	return c
}

func testConfirm(kind MessageType) *Confirm {
	c := &Confirm{
		Kind:            kind,
		SASVerified:     true,
		CacheExpiration: 0xffffffff,
	}
	c.IV[0] = 0x77
	c.H0[0] = 0x10
	return c
}

func confirmKeys() BuildOption {
	return WithConfirmKeys(crypto.HashS256, crypto.CipherAES1, testZRTPKey, testMACKey)
}

func confirmContext() *DecodeContext {
	return &DecodeContext{Hash: crypto.HashS256, Cipher: crypto.CipherAES1, ZRTPKey: testZRTPKey, MACKey: testMACKey}
}

func TestBuildMessageLengths(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		opts    []BuildOption
		wantLen int
	}{
		{"Hello", testHello(), nil, 88 + 4*9},
		{"HelloACK", HelloACK{}, nil, 12},
		{"Commit DH", testCommit(crypto.KeyAgreementDH3k), nil, 116},
		{"Commit Mult", testCommit(crypto.KeyAgreementMult), nil, 100},
		{"Commit Prsh", testCommit(crypto.KeyAgreementPrsh), nil, 108},
		{"Commit KEM", testCommit(crypto.KeyAgreementKYB1), nil, 116 + crypto.PublicValueLength(crypto.KeyAgreementKYB1, crypto.PublicValueCommit)},
		{"DHPart X255", &DHPart{Kind: TypeDHPart1, PublicValue: make([]byte, 32)}, nil, 84 + 32},
		{"DHPart DH3k", &DHPart{Kind: TypeDHPart2, PublicValue: make([]byte, 384)}, nil, 84 + 384},
		{"Confirm", testConfirm(TypeConfirm1), []BuildOption{confirmKeys()}, 76},
		{"Confirm signed", &Confirm{Kind: TypeConfirm2, Signature: make([]byte, 8)}, []BuildOption{confirmKeys()}, 76 + 8},
		{"Conf2ACK", Conf2ACK{}, nil, 12},
		{"Error", &Error{Code: ErrorBadConfirmMAC}, nil, 16},
		{"ErrorACK", ErrorACK{}, nil, 12},
		{"Ping", &Ping{Version: Version}, nil, 24},
		{"PingACK", &PingACK{Version: Version}, nil, 36},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Build(1, 0x1234, tc.msg, tc.opts...)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got := len(p.MessageBytes()); got != tc.wantLen {
				t.Errorf("message length = %d, want %d", got, tc.wantLen)
			}
			if got := len(p.Bytes()); got != tc.wantLen+Overhead {
				t.Errorf("packet length = %d, want %d", got, tc.wantLen+Overhead)
			}
			if got := binary.BigEndian.Uint16(p.MessageBytes()[2:4]); int(got) != tc.wantLen/4 {
				t.Errorf("length field = %d words, want %d", got, tc.wantLen/4)
			}
		})
	}
}

func TestBuildParseDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		opts []BuildOption
		dc   *DecodeContext
	}{
		{"Hello", testHello(), []BuildOption{WithMACKey(testMACKey)}, nil},
		{"Commit DH", testCommit(crypto.KeyAgreementX255), []BuildOption{WithMACKey(testMACKey)}, nil},
		{"Commit Mult", testCommit(crypto.KeyAgreementMult), nil, nil},
		{"Commit Prsh", testCommit(crypto.KeyAgreementPrsh), nil, nil},
		{"Commit KEM", testCommit(crypto.KeyAgreementKYB2), nil, nil},
		{
			"DHPart1",
			&DHPart{Kind: TypeDHPart1, RS1ID: [8]byte{1}, RS2ID: [8]byte{2}, AuxID: [8]byte{3}, PBXID: [8]byte{4}, PublicValue: bytes.Repeat([]byte{9}, 32)},
			[]BuildOption{WithMACKey(testMACKey)},
			&DecodeContext{KeyAgreement: crypto.KeyAgreementX255},
		},
		{
			"DHPart2 KEM nonce",
			&DHPart{Kind: TypeDHPart2, PublicValue: bytes.Repeat([]byte{7}, crypto.KEMNonceSize)},
			nil,
			&DecodeContext{KeyAgreement: crypto.KeyAgreementKYB1},
		},
		{"Confirm1", testConfirm(TypeConfirm1), []BuildOption{confirmKeys()}, confirmContext()},
		{
			"Confirm2 signed",
			&Confirm{Kind: TypeConfirm2, Enrollment: true, AllowClear: true, Disclosure: true, Signature: []byte{1, 2, 3, 4}},
			[]BuildOption{confirmKeys()},
			confirmContext(),
		},
		{"HelloACK", HelloACK{}, nil, nil},
		{"Error", &Error{Code: ErrorEqualZID}, nil, nil},
		{"Ping", &Ping{Version: Version, EndpointHash: [8]byte{1, 2, 3}}, nil, nil},
		{"PingACK", &PingACK{Version: Version, EndpointHash: [8]byte{4}, PeerEndpointHash: [8]byte{5}, SSRC: 0xcafe}, nil, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			built, err := Build(42, 0xabcdef01, tc.msg, tc.opts...)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			p, err := Parse(built.Bytes(), 41)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if p.SequenceNumber != 42 || p.SSRC != 0xabcdef01 || p.Type != tc.msg.Type() {
				t.Errorf("Parse() header = %+v, type %s", p.Header, p.Type)
			}
			if err := Decode(p, tc.dc); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(p.Message, tc.msg) {
				t.Errorf("Decode() = %+v, want %+v", p.Message, tc.msg)
			}
		})
	}
}

func TestParseCheckOrder(t *testing.T) {
	built, err := Build(5, 1, HelloACK{})
	if err != nil {
		t.Fatal(err)
	}
	valid := built.Bytes()

	// mutate corrupts the packet; fixCRC recomputes the trailer afterwards.
	tests := []struct {
		name    string
		lastSeq uint16
		mutate  func([]byte) []byte
		fixCRC  bool
		wantErr error
	}{
		{"too short", 0, func(b []byte) []byte { return b[:MinPacketLength-1] }, false, ErrInvalidPacket},
		{"bad magic", 0, func(b []byte) []byte { b[4] = 0; return b }, true, ErrInvalidPacket},
		{"replayed sequence", 5, func(b []byte) []byte { return b }, false, ErrOutOfOrder},
		{"old sequence before CRC", 9, func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }, false, ErrOutOfOrder},
		{"bad CRC", 0, func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }, false, ErrInvalidCRC},
		{"bad preamble", 0, func(b []byte) []byte { b[HeaderLength] = 0; return b }, true, ErrInvalidMessage},
		{"unknown type", 0, func(b []byte) []byte { copy(b[HeaderLength+4:], "Bogus   "); return b }, true, ErrInvalidMessage},
		{"length mismatch", 0, func(b []byte) []byte { b[HeaderLength+3] = 4; return b }, true, ErrInvalidLength},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), valid...))
			if tc.fixCRC {
				crypto.PutCRC(data[len(data)-CRCLength:], data[:len(data)-CRCLength])
			}
			if _, err := Parse(data, tc.lastSeq); !errors.Is(err, tc.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseCopiesInput(t *testing.T) {
	built, err := Build(1, 1, &Error{Code: ErrorNonceReuse})
	if err != nil {
		t.Fatal(err)
	}
	data := append([]byte(nil), built.Bytes()...)
	p, err := Parse(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	data[HeaderLength+MessageHeaderLength] = 0xff
	if err := Decode(p, nil); err != nil {
		t.Fatal(err)
	}
	if code := p.Message.(*Error).Code; code != ErrorNonceReuse {
		t.Errorf("Code = %v, want %v", code, ErrorNonceReuse)
	}
}

func TestSetSequenceNumber(t *testing.T) {
	p, err := Build(1, 7, testHello(), WithMACKey(testMACKey))
	if err != nil {
		t.Fatal(err)
	}
	first := append([]byte(nil), p.Bytes()...)

	p.SetSequenceNumber(2)
	q, err := Parse(p.Bytes(), 1)
	if err != nil {
		t.Fatalf("Parse() after SetSequenceNumber: %v", err)
	}
	if q.SequenceNumber != 2 {
		t.Errorf("SequenceNumber = %d, want 2", q.SequenceNumber)
	}
	if bytes.Equal(first, p.Bytes()) {
		t.Error("packet bytes unchanged")
	}
	orig, err := Parse(first, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !q.SameMessage(orig) {
		t.Error("SameMessage() = false for a retransmission")
	}
	other, err := Build(3, 7, &Error{Code: ErrorMalformedPacket})
	if err != nil {
		t.Fatal(err)
	}
	if q.SameMessage(other) {
		t.Error("SameMessage() = true for different messages")
	}
}

func TestDecodeHelloAlgorithms(t *testing.T) {
	h := testHello()
	h.KeyAgreementAlgos = nil
	p, err := Build(1, 1, h)
	if err != nil {
		t.Fatal(err)
	}

	// Replace "S384" with an unknown hash name.
	raw := append([]byte(nil), p.Bytes()...)
	off := HeaderLength + MessageHeaderLength + 4 + ClientIDLength + HashImageLength + ZIDLength + 4 + 4
	if string(raw[off:off+4]) != "S384" {
		t.Fatalf("unexpected layout: %q", raw[off:off+4])
	}
	copy(raw[off:], "XXXX")
	crypto.PutCRC(raw[len(raw)-CRCLength:], raw[:len(raw)-CRCLength])

	q, err := Parse(raw, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := Decode(q, nil); err != nil {
		t.Fatal(err)
	}
	got := q.Message.(*Hello)
	if !reflect.DeepEqual(got.HashAlgos, []crypto.Algo{crypto.HashS256}) {
		t.Errorf("HashAlgos = %v, want [S256]", got.HashAlgos)
	}
	if !reflect.DeepEqual(got.KeyAgreementAlgos, crypto.Mandatory(crypto.AlgoTypeKeyAgreement)) {
		t.Errorf("KeyAgreementAlgos = %v, want mandatory set", got.KeyAgreementAlgos)
	}
	if !got.MiTM || got.Passive || got.SignatureCapable {
		t.Errorf("flags S=%v M=%v P=%v", got.SignatureCapable, got.MiTM, got.Passive)
	}
}

func TestBuildHelloTooManyAlgorithms(t *testing.T) {
	h := testHello()
	h.HashAlgos = make([]crypto.Algo, 8)
	for i := range h.HashAlgos {
		h.HashAlgos[i] = crypto.HashS256
	}
	if _, err := Build(1, 1, h); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Build() error = %v, want ErrInvalidMessage", err)
	}
}

func TestDecodeConfirmErrors(t *testing.T) {
	p, err := Build(1, 1, testConfirm(TypeConfirm1), confirmKeys())
	if err != nil {
		t.Fatal(err)
	}

	q, err := Parse(p.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := Decode(q, nil); !errors.Is(err, ErrMissingContext) {
		t.Errorf("nil context: error = %v, want ErrMissingContext", err)
	}

	dc := confirmContext()
	dc.MACKey = bytes.Repeat([]byte{0x01}, 32)
	if err := Decode(q, dc); !errors.Is(err, ErrUnmatchingConfirmMAC) {
		t.Errorf("wrong mackey: error = %v, want ErrUnmatchingConfirmMAC", err)
	}

	if _, err := Build(1, 1, testConfirm(TypeConfirm1)); !errors.Is(err, ErrMissingContext) {
		t.Errorf("Build without keys: error = %v, want ErrMissingContext", err)
	}
}

func TestDecodeDHPartNeedsKeyAgreement(t *testing.T) {
	p, err := Build(1, 1, &DHPart{Kind: TypeDHPart1, PublicValue: make([]byte, 32)})
	if err != nil {
		t.Fatal(err)
	}
	q, err := Parse(p.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := Decode(q, &DecodeContext{}); !errors.Is(err, ErrMissingContext) {
		t.Errorf("error = %v, want ErrMissingContext", err)
	}
	if err := Decode(q, &DecodeContext{KeyAgreement: crypto.KeyAgreementDH3k}); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("DH3k context on X255 value: error = %v, want ErrInvalidLength", err)
	}
}

func TestDecodeUnsupportedMessage(t *testing.T) {
	raw := make([]byte, MinPacketLength)
	(&Header{SequenceNumber: 1, SSRC: 1}).EncodeTo(raw)
	(&MessageHeader{Length: 3, Type: TypeGoClear}).EncodeTo(raw[HeaderLength:])
	crypto.PutCRC(raw[len(raw)-CRCLength:], raw[:len(raw)-CRCLength])

	p, err := Parse(raw, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := Decode(p, nil); !errors.Is(err, ErrUnsupportedMessage) {
		t.Errorf("error = %v, want ErrUnsupportedMessage", err)
	}
}
