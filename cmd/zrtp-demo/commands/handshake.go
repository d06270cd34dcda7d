package commands

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/pion/rtp"
	"github.com/spf13/cobra"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
)

const (
	aliceSSRC = 0xa11ce
	bobSSRC   = 0xb0b
)

func handshakeCmd() *cobra.Command {
	var (
		useUDP        bool
		keyAgreements string
		cacheDir      string
		timeout       time.Duration
		markVerified  bool
		dropRate      float64
	)

	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Run a ZRTP exchange between two local endpoints",
		Long: `Runs two endpoints, alice and bob, in this process. They exchange
ZRTP packets over an in-memory pipe (or loopback UDP with --udp), agree on
SRTP keys, and alice sends one SRTP packet that bob decrypts.

With --cache-dir the retained secrets persist in alice.zrtp and bob.zrtp,
so a second run continues the key continuity chain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kas, err := parseKeyAgreements(keyAgreements)
			if err != nil {
				return err
			}

			connA, connB, addrA, addrB, closeConns, err := newConnPair(useUDP, dropRate)
			if err != nil {
				return err
			}
			defer closeConns()

			var storeA, storeB cache.Store
			if cacheDir != "" {
				if storeA, err = openStore(filepath.Join(cacheDir, "alice.zrtp")); err != nil {
					return err
				}
				if storeB, err = openStore(filepath.Join(cacheDir, "bob.zrtp")); err != nil {
					return err
				}
			}

			alice, err := newPeer(peerConfig{
				name: "alice", ssrc: aliceSSRC, conn: connA, peerAddr: addrB,
				store: storeA, keyAgreements: kas,
			})
			if err != nil {
				return err
			}
			bob, err := newPeer(peerConfig{
				name: "bob", ssrc: bobSSRC, conn: connB, peerAddr: addrA,
				store: storeB, keyAgreements: kas,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			for _, p := range []*peer{alice, bob} {
				if err := p.start(ctx); err != nil {
					return err
				}
				defer p.ep.Stop()
			}

			resA, err := alice.wait(ctx)
			if err != nil {
				return err
			}
			resB, err := bob.wait(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("secure after %v\n", time.Since(start).Round(time.Millisecond))
			printOutcome("alice", resA)
			printOutcome("bob", resB)
			if resA.sas != resB.sas {
				return fmt.Errorf("SAS mismatch: %q != %q", resA.sas, resB.sas)
			}

			if err := compareExportedKeys(alice, bob); err != nil {
				return err
			}

			if markVerified {
				for _, p := range []*peer{alice, bob} {
					if err := p.ep.Do(func(s *zrtp.Session) error { return s.SASVerified() }); err != nil {
						return fmt.Errorf("%s: %w", p.name, err)
					}
				}
				fmt.Println("SAS marked verified on both sides")
			}

			return sendMedia(ctx, alice, resA, bob, resB)
		},
	}

	cmd.Flags().BoolVar(&useUDP, "udp", false, "exchange packets over loopback UDP instead of an in-memory pipe")
	cmd.Flags().StringVar(&keyAgreements, "key-agreement", "", "comma separated key agreement preference, e.g. X255,DH3k,KYB1")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory of the persistent secret caches (default: in-memory)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	cmd.Flags().BoolVar(&markVerified, "verified", false, "mark the SAS verified once secure")
	cmd.Flags().Float64Var(&dropRate, "drop-rate", 0, "probability of dropping a packet on the in-memory pipe")
	return cmd
}

// newConnPair returns two connected packet connections and the address of
// each end.
func newConnPair(useUDP bool, dropRate float64) (a, b net.PacketConn, addrA, addrB net.Addr, closeFn func(), err error) {
	if !useUDP {
		pipe := transport.NewPipe()
		pipe.SetCondition(transport.NetworkCondition{DropRate: dropRate})
		return pipe.PacketConn(0), pipe.PacketConn(1), pipe.Addr(0), pipe.Addr(1), func() { _ = pipe.Close() }, nil
	}

	a, err = net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	b, err = net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		_ = a.Close()
		return nil, nil, nil, nil, nil, err
	}
	// The endpoints close their connections on Stop.
	return a, b, a.LocalAddr(), b.LocalAddr(), func() {}, nil
}

// compareExportedKeys checks both sides derived the same exported key
// (RFC 6189 Section 4.5.2).
func compareExportedKeys(alice, bob *peer) error {
	var keyA, keyB []byte
	err := alice.ep.Do(func(s *zrtp.Session) (err error) {
		keyA, err = s.ExportKey("zrtp-demo", 16)
		return err
	})
	if err != nil {
		return fmt.Errorf("alice: %w", err)
	}
	err = bob.ep.Do(func(s *zrtp.Session) (err error) {
		keyB, err = s.ExportKey("zrtp-demo", 16)
		return err
	})
	if err != nil {
		return fmt.Errorf("bob: %w", err)
	}
	if !bytes.Equal(keyA, keyB) {
		return fmt.Errorf("exported keys differ")
	}
	fmt.Printf("exported key %x\n", keyA)
	return nil
}

// sendMedia protects one RTP packet at alice and unprotects it at bob.
func sendMedia(ctx context.Context, alice *peer, resA outcome, bob *peer, resB outcome) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: 1,
			Timestamp:      160,
			SSRC:           aliceSSRC,
		},
		Payload: []byte("hello from alice"),
	}
	protected, err := resA.srtp.EncryptRTP(pkt)
	if err != nil {
		return fmt.Errorf("alice: %w", err)
	}

	for {
		if err := alice.ep.SendMedia(protected); err != nil {
			return fmt.Errorf("alice: %w", err)
		}
		select {
		case data := <-bob.media:
			got, err := resB.srtp.DecryptRTP(data)
			if err != nil {
				return fmt.Errorf("bob: %w", err)
			}
			fmt.Printf("bob received %q over SRTP (profile %v)\n", got.Payload, resB.srtp.Profile())
			return nil
		case <-time.After(100 * time.Millisecond):
			// Lost on a lossy pipe.
		case <-ctx.Done():
			return fmt.Errorf("bob: %w", ctx.Err())
		}
	}
}
