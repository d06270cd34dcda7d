package zrtp

import (
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// commonAlgos returns the algorithms present in both lists, in the order of
// master, at most crypto.MaxAlgoPerType of them.
func commonAlgos(master, slave []crypto.Algo) []crypto.Algo {
	var out []crypto.Algo
	for _, a := range master {
		if containsAlgo(slave, a) {
			out = append(out, a)
			if len(out) == crypto.MaxAlgoPerType {
				break
			}
		}
	}
	return out
}

// negotiate selects the algorithms of a channel from our preference lists
// and the peer Hello (RFC 6189 Section 4.1.2).
//
// The key agreement is the first common choice of both sides when they
// agree, otherwise the faster of the two first choices. Mult is never
// negotiated here: a multistream channel switches to it once the session
// key exists. Prsh is a candidate only when allowPreshared is set, since it
// needs a retained secret.
//
// For EC38, RFC 6189 Section 5.1.5 pairs the curve with a 384-bit hash and
// a 256-bit cipher: S384 is required and AES3 preferred over AES2.
// Every other family takes the first common algorithm in our order.
func negotiate(self supportedAlgos, peer *packet.Hello, allowPreshared bool) (agreedAlgos, error) {
	var a agreedAlgos

	var candidates []crypto.Algo
	for _, k := range self.keyAgreement {
		if k == crypto.KeyAgreementMult || (k == crypto.KeyAgreementPrsh && !allowPreshared) {
			continue
		}
		candidates = append(candidates, k)
	}
	selfChoice := commonAlgos(candidates, peer.KeyAgreementAlgos)
	peerChoice := commonAlgos(peer.KeyAgreementAlgos, candidates)
	if len(selfChoice) == 0 {
		return a, fmt.Errorf("%w: key agreement", ErrNoCommonAlgorithm)
	}
	a.keyAgreement = selfChoice[0]
	if peerChoice[0] != selfChoice[0] && peerChoice[0] < selfChoice[0] {
		a.keyAgreement = peerChoice[0]
	}

	ciphers := commonAlgos(self.cipher, peer.CipherAlgos)
	if len(ciphers) == 0 {
		return a, fmt.Errorf("%w: cipher", ErrNoCommonAlgorithm)
	}
	a.cipher = ciphers[0]
	if a.keyAgreement == crypto.KeyAgreementEC38 {
		switch {
		case containsAlgo(ciphers, crypto.CipherAES3):
			a.cipher = crypto.CipherAES3
		case containsAlgo(ciphers, crypto.CipherAES2):
			a.cipher = crypto.CipherAES2
		default:
			return a, fmt.Errorf("%w: EC38 needs AES3 or AES2", ErrNoCommonAlgorithm)
		}
	}

	hashes := commonAlgos(self.hash, peer.HashAlgos)
	if len(hashes) == 0 {
		return a, fmt.Errorf("%w: hash", ErrNoCommonAlgorithm)
	}
	a.hash = hashes[0]
	if a.keyAgreement == crypto.KeyAgreementEC38 {
		if !containsAlgo(hashes, crypto.HashS384) {
			return a, fmt.Errorf("%w: EC38 needs S384", ErrNoCommonAlgorithm)
		}
		a.hash = crypto.HashS384
	}

	tags := commonAlgos(self.authTag, peer.AuthTagAlgos)
	if len(tags) == 0 {
		return a, fmt.Errorf("%w: auth tag", ErrNoCommonAlgorithm)
	}
	a.authTag = tags[0]

	sas := commonAlgos(self.sas, peer.SASAlgos)
	if len(sas) == 0 {
		return a, fmt.Errorf("%w: SAS rendering", ErrNoCommonAlgorithm)
	}
	a.sas = sas[0]

	return a, nil
}
