package commands

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/endpoint"
	"github.com/backkem/zrtp/pkg/srtp"
	"github.com/backkem/zrtp/pkg/zrtp"
)

// outcome is what a peer learns when its channel turns secure.
type outcome struct {
	sas           string
	verified      bool
	cacheMismatch bool
	cipher        crypto.Algo
	authTag       crypto.Algo
	hash          crypto.Algo
	keyAgreement  crypto.Algo
	srtp          *srtp.Session
	err           error
}

// peer is one demo endpoint with the events reported by its session.
type peer struct {
	name  string
	ssrc  uint32
	ep    *endpoint.Endpoint
	done  chan outcome
	media chan []byte
}

type peerConfig struct {
	name          string
	ssrc          uint32
	conn          net.PacketConn
	peerAddr      net.Addr
	store         cache.Store
	keyAgreements []crypto.Algo
}

func newPeer(config peerConfig) (*peer, error) {
	p := &peer{
		name:  config.name,
		ssrc:  config.ssrc,
		done:  make(chan outcome, 1),
		media: make(chan []byte, 16),
	}

	callbacks := zrtp.Callbacks{
		StartSRTPSession: func(ssrc uint32, secrets *zrtp.SRTPSecrets, verified bool) {
			sess, err := srtp.NewSession(secrets)
			p.report(outcome{
				sas:           secrets.SAS,
				verified:      verified,
				cacheMismatch: secrets.CacheMismatch,
				cipher:        secrets.Cipher,
				authTag:       secrets.AuthTag,
				hash:          secrets.Hash,
				keyAgreement:  secrets.KeyAgreement,
				srtp:          sess,
				err:           err,
			})
		},
		Failure: func(ssrc uint32, err error) {
			p.report(outcome{err: fmt.Errorf("%s: %w", config.name, err)})
		},
		StatusMessage: func(ssrc uint32, level zrtp.StatusLevel, id zrtp.StatusID, msg string) {
			fmt.Printf("[%s] %s: %s %s\n", config.name, level, id, msg)
		},
	}

	ep, err := endpoint.New(endpoint.Config{
		Conn:     config.conn,
		PeerAddr: config.peerAddr,
		OnMedia: func(data []byte) {
			select {
			case p.media <- data:
			default:
			}
		},
		Session: zrtp.Config{
			Store:             config.store,
			Callbacks:         callbacks,
			KeyAgreementAlgos: config.keyAgreements,
			MessageLevel:      zrtp.StatusLevelWarning,
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.name, err)
	}
	p.ep = ep

	if err := ep.AddStream(config.ssrc); err != nil {
		return nil, fmt.Errorf("%s: %w", config.name, err)
	}
	return p, nil
}

func (p *peer) report(o outcome) {
	select {
	case p.done <- o:
	default:
	}
}

// start runs the endpoint and sends the first Hello.
func (p *peer) start(ctx context.Context) error {
	if err := p.ep.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	if err := p.ep.StartStream(p.ssrc); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

// wait blocks until the channel is secure or failed.
func (p *peer) wait(ctx context.Context) (outcome, error) {
	select {
	case o := <-p.done:
		return o, o.err
	case <-ctx.Done():
		return outcome{}, fmt.Errorf("%s: %w", p.name, ctx.Err())
	}
}

// parseKeyAgreements parses a comma separated list of key agreement names
// such as "X255,DH3k".
func parseKeyAgreements(s string) ([]crypto.Algo, error) {
	if s == "" {
		return nil, nil
	}
	var out []crypto.Algo
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		a, ok := crypto.ParseAlgo(crypto.AlgoTypeKeyAgreement, []byte(name))
		if !ok || !crypto.IsImplemented(a) {
			return nil, fmt.Errorf("unknown key agreement %q", name)
		}
		out = append(out, a)
	}
	return out, nil
}

// openStore opens a file backed cache, or returns nil for an in-memory one.
func openStore(path string) (cache.Store, error) {
	if path == "" {
		return nil, nil
	}
	return cache.OpenFileStore(cache.FileStoreConfig{
		Path:          path,
		LoggerFactory: loggerFactory,
	})
}

func printOutcome(name string, o outcome) {
	fmt.Printf("%s: SAS %q, %s/%s/%s/%s, verified=%t, cache mismatch=%t\n",
		name, o.sas, o.keyAgreement, o.hash, o.cipher, o.authTag, o.verified, o.cacheMismatch)
}
