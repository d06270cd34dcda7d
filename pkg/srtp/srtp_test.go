package srtp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/rtp"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/zrtp"
)

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// secretPair returns the secrets of both ends of an exchange: the self
// keys of one side are the peer keys of the other.
func secretPair(cipher, authTag crypto.Algo) (*zrtp.SRTPSecrets, *zrtp.SRTPSecrets) {
	n := crypto.CipherKeyLength(cipher)
	a := &zrtp.SRTPSecrets{
		SelfKey:  filled(n, 1),
		SelfSalt: filled(14, 2),
		PeerKey:  filled(n, 3),
		PeerSalt: filled(14, 4),
		Cipher:   cipher,
		AuthTag:  authTag,
	}
	b := &zrtp.SRTPSecrets{
		SelfKey:  a.PeerKey,
		SelfSalt: a.PeerSalt,
		PeerKey:  a.SelfKey,
		PeerSalt: a.SelfSalt,
		Cipher:   cipher,
		AuthTag:  authTag,
	}
	return a, b
}

func TestProfile(t *testing.T) {
	tests := []struct {
		cipher, authTag crypto.Algo
		wantErr         bool
	}{
		{crypto.CipherAES1, crypto.AuthTagHS80, false},
		{crypto.CipherAES1, crypto.AuthTagHS32, false},
		{crypto.CipherAES3, crypto.AuthTagHS80, false},
		{crypto.CipherAES3, crypto.AuthTagHS32, false},
		{crypto.Cipher2FS1, crypto.AuthTagHS80, true},
		{crypto.CipherAES2, crypto.AuthTagHS32, true},
	}
	for _, tt := range tests {
		t.Run(tt.cipher.String()+"/"+tt.authTag.String(), func(t *testing.T) {
			_, err := Profile(tt.cipher, tt.authTag)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedProfile) {
					t.Errorf("Profile() error = %v, want %v", err, ErrUnsupportedProfile)
				}
				return
			}
			if err != nil {
				t.Errorf("Profile() error = %v", err)
			}
		})
	}
}

func TestSessionRTP(t *testing.T) {
	for _, cipher := range []crypto.Algo{crypto.CipherAES1, crypto.CipherAES3} {
		for _, tag := range []crypto.Algo{crypto.AuthTagHS32, crypto.AuthTagHS80} {
			t.Run(cipher.String()+"/"+tag.String(), func(t *testing.T) {
				sa, sb := secretPair(cipher, tag)
				alice, err := NewSession(sa)
				if err != nil {
					t.Fatalf("NewSession() error = %v", err)
				}
				bob, err := NewSession(sb)
				if err != nil {
					t.Fatalf("NewSession() error = %v", err)
				}

				pkt := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    96,
						SequenceNumber: 1000,
						Timestamp:      160,
						SSRC:           0x1234,
					},
					Payload: []byte("media payload"),
				}
				protected, err := alice.EncryptRTP(pkt)
				if err != nil {
					t.Fatalf("EncryptRTP() error = %v", err)
				}
				if bytes.Contains(protected, pkt.Payload) {
					t.Errorf("payload sent in clear")
				}

				got, err := bob.DecryptRTP(protected)
				if err != nil {
					t.Fatalf("DecryptRTP() error = %v", err)
				}
				if !bytes.Equal(got.Payload, pkt.Payload) || got.SequenceNumber != 1000 {
					t.Errorf("DecryptRTP() = %+v", got)
				}

				// Alice cannot read her own packets: the directions use
				// different keys.
				if _, err := alice.DecryptRTP(protected); err == nil {
					t.Errorf("DecryptRTP() with the outbound keys succeeded")
				}
			})
		}
	}
}

func TestSessionRTCP(t *testing.T) {
	sa, sb := secretPair(crypto.CipherAES1, crypto.AuthTagHS80)
	alice, err := NewSession(sa)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := NewSession(sb)
	if err != nil {
		t.Fatal(err)
	}

	// Receiver report with no report blocks.
	rr := []byte{0x80, 0xc9, 0x00, 0x01, 0x00, 0x00, 0x12, 0x34}
	protected, err := alice.EncryptRTCP(rr)
	if err != nil {
		t.Fatalf("EncryptRTCP() error = %v", err)
	}
	got, err := bob.DecryptRTCP(protected)
	if err != nil {
		t.Fatalf("DecryptRTCP() error = %v", err)
	}
	if !bytes.Equal(got, rr) {
		t.Errorf("DecryptRTCP() = %x, want %x", got, rr)
	}
}

func TestNewSessionErrors(t *testing.T) {
	if _, err := NewSession(nil); !errors.Is(err, ErrMissingKeys) {
		t.Errorf("NewSession(nil) error = %v, want %v", err, ErrMissingKeys)
	}
	sa, _ := secretPair(crypto.CipherAES1, crypto.AuthTagHS80)
	sa.PeerKey = nil
	if _, err := NewSession(sa); !errors.Is(err, ErrMissingKeys) {
		t.Errorf("NewSession() error = %v, want %v", err, ErrMissingKeys)
	}
	sa, _ = secretPair(crypto.Cipher2FS1, crypto.AuthTagHS80)
	if _, err := NewSession(sa); !errors.Is(err, ErrUnsupportedProfile) {
		t.Errorf("NewSession() error = %v, want %v", err, ErrUnsupportedProfile)
	}
}
