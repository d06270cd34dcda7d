package zrtp

import (
	"io"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// Config configures a Session.
type Config struct {
	// Store is the retained secret cache. It also provides the self ZID.
	// If nil, an in-memory store with a random ZID is used.
	Store cache.Store

	// Rand is the source of every random value: hash chain, nonces, IVs,
	// key agreement secrets. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Callbacks connect the engine to the transport and the application.
	Callbacks Callbacks

	// Algorithm preference lists advertised in Hello, most preferred first.
	// Unimplemented entries are dropped and the mandatory algorithms of
	// RFC 6189 Section 5.1 are appended when missing. Nil lists take the
	// defaults.
	HashAlgos         []crypto.Algo
	CipherAlgos       []crypto.Algo
	AuthTagAlgos      []crypto.Algo
	KeyAgreementAlgos []crypto.Algo
	SASAlgos          []crypto.Algo

	// Retransmit overrides the retransmission schedules.
	Retransmit RetransmitConfig

	// AuxSecret is a transient auxiliary secret shared with the peer out of
	// band, appended to the cached one (RFC 6189 Section 4.3).
	AuxSecret []byte

	// MessageLevel filters status messages: only messages with a level at
	// most MessageLevel reach Callbacks.StatusMessage.
	MessageLevel StatusLevel

	// ClientID is advertised in Hello, at most 16 characters.
	// Defaults to DefaultClientID.
	ClientID string

	// MiTM advertises the M flag in Hello, set by trusted PBX endpoints.
	MiTM bool
}

// Callbacks are invoked synchronously from Session methods. Any of them may
// be nil.
type Callbacks struct {
	// SendData sends a ZRTP packet on the channel bound to ssrc. A send
	// failure does not fail the channel; retransmissions continue.
	SendData func(ssrc uint32, data []byte) error

	// SRTPSecretsAvailable is called when the SRTP keys for one direction
	// are ready: first the receiver keys, then the sender keys.
	SRTPSecretsAvailable func(ssrc uint32, secrets *SRTPSecrets, dir Direction)

	// StartSRTPSession is called once when the channel turns secure.
	// verified is set when both sides had previously verified the SAS.
	StartSRTPSession func(ssrc uint32, secrets *SRTPSecrets, verified bool)

	// CacheMismatch is called when the retained secrets do not match the
	// peer's. The user must verify the SAS again.
	CacheMismatch func(ssrc uint32)

	// StatusMessage reports events the application may show or log.
	StatusMessage func(ssrc uint32, level StatusLevel, id StatusID, msg string)

	// ContextReadyForExportedKeys is called once the retained secrets were
	// updated and Session.ExportKey can be used.
	ContextReadyForExportedKeys func(peer cache.ZID, role Role)

	// Failure is called once when a channel is aborted.
	Failure func(ssrc uint32, err error)
}

// SRTPSecrets are the keys and negotiated parameters handed to the SRTP
// layer. Self keys protect outbound media, peer keys inbound media.
type SRTPSecrets struct {
	SelfKey  []byte
	SelfSalt []byte
	PeerKey  []byte
	PeerSalt []byte

	Cipher       crypto.Algo
	AuthTag      crypto.Algo
	Hash         crypto.Algo
	KeyAgreement crypto.Algo
	SASAlgo      crypto.Algo

	// SAS is the rendered Short Authentication String. Empty on
	// multistream channels.
	SAS string

	// CacheMismatch is set when the retained secrets did not match.
	CacheMismatch bool

	// AuxSecret is the outcome of the auxiliary secret comparison.
	AuxSecret AuxSecretStatus
}

// Wipe zeroes the SRTP keys.
func (s *SRTPSecrets) Wipe() {
	crypto.Wipe(s.SelfKey, s.SelfSalt, s.PeerKey, s.PeerSalt)
	s.SelfKey, s.SelfSalt, s.PeerKey, s.PeerSalt = nil, nil, nil, nil
}

// Default algorithm preference lists.
var (
	DefaultHashAlgos = []crypto.Algo{
		crypto.HashS256, crypto.HashS384, crypto.HashN256, crypto.HashN384,
	}
	DefaultCipherAlgos = []crypto.Algo{
		crypto.CipherAES1, crypto.CipherAES3, crypto.Cipher2FS1, crypto.Cipher2FS3,
	}
	DefaultAuthTagAlgos = []crypto.Algo{
		crypto.AuthTagHS32, crypto.AuthTagHS80,
	}
	DefaultKeyAgreementAlgos = []crypto.Algo{
		crypto.KeyAgreementX255, crypto.KeyAgreementX448, crypto.KeyAgreementEC25,
		crypto.KeyAgreementDH3k, crypto.KeyAgreementMult,
	}
	DefaultSASAlgos = []crypto.Algo{
		crypto.SASB32, crypto.SASB256,
	}
)

// supportedAlgos is the normalized form of the configured preference lists.
type supportedAlgos struct {
	hash         []crypto.Algo
	cipher       []crypto.Algo
	authTag      []crypto.Algo
	keyAgreement []crypto.Algo
	sas          []crypto.Algo
}

func newSupportedAlgos(cfg *Config) supportedAlgos {
	pick := func(configured, def []crypto.Algo) []crypto.Algo {
		if configured == nil {
			return def
		}
		return configured
	}
	return supportedAlgos{
		hash:         withMandatory(crypto.AlgoTypeHash, pick(cfg.HashAlgos, DefaultHashAlgos)),
		cipher:       withMandatory(crypto.AlgoTypeCipher, pick(cfg.CipherAlgos, DefaultCipherAlgos)),
		authTag:      withMandatory(crypto.AlgoTypeAuthTag, pick(cfg.AuthTagAlgos, DefaultAuthTagAlgos)),
		keyAgreement: withMandatory(crypto.AlgoTypeKeyAgreement, pick(cfg.KeyAgreementAlgos, DefaultKeyAgreementAlgos)),
		sas:          withMandatory(crypto.AlgoTypeSAS, pick(cfg.SASAlgos, DefaultSASAlgos)),
	}
}

// withMandatory filters a preference list down to implemented algorithms of
// family t, keeping its order, and appends the mandatory algorithms it
// lacks. Entries are dropped from the tail when needed to fit the mandatory
// ones into the seven slots a Hello allows per family.
func withMandatory(t crypto.AlgoType, configured []crypto.Algo) []crypto.Algo {
	var out []crypto.Algo
	for _, a := range configured {
		if a.Type() == t && crypto.IsImplemented(a) && !containsAlgo(out, a) {
			out = append(out, a)
		}
	}

	var missing []crypto.Algo
	for _, m := range crypto.Mandatory(t) {
		if !containsAlgo(out, m) {
			missing = append(missing, m)
		}
	}

	isMandatory := func(a crypto.Algo) bool { return containsAlgo(crypto.Mandatory(t), a) }
	for len(out)+len(missing) > crypto.MaxAlgoPerType {
		for i := len(out) - 1; i >= 0; i-- {
			if !isMandatory(out[i]) {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
	}
	return append(out, missing...)
}

func containsAlgo(list []crypto.Algo, a crypto.Algo) bool {
	for _, b := range list {
		if a == b {
			return true
		}
	}
	return false
}

// clientID pads the configured identifier with zeroes to 16 bytes.
func clientID(s string) [packet.ClientIDLength]byte {
	var id [packet.ClientIDLength]byte
	if s == "" {
		s = DefaultClientID
	}
	copy(id[:], s)
	return id
}
