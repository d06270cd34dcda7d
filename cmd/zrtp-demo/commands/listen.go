package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backkem/zrtp/pkg/zrtp"
)

func listenCmd() *cobra.Command {
	var (
		listenAddr    string
		peerAddr      string
		cachePath     string
		ssrc          uint32
		keyAgreements string
		markVerified  bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run one endpoint against a remote peer over UDP",
		Long: `Listens on a UDP address and runs a ZRTP exchange with the peer.
Without --peer the peer address is learned from its first packet. The SAS
is printed once the exchange completes; the endpoint then keeps running
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kas, err := parseKeyAgreements(keyAgreements)
			if err != nil {
				return err
			}
			store, err := openStore(cachePath)
			if err != nil {
				return err
			}

			var remote net.Addr
			if peerAddr != "" {
				if remote, err = net.ResolveUDPAddr("udp", peerAddr); err != nil {
					return err
				}
			}
			conn, err := net.ListenPacket("udp", listenAddr)
			if err != nil {
				return err
			}

			p, err := newPeer(peerConfig{
				name: "local", ssrc: ssrc, conn: conn, peerAddr: remote,
				store: store, keyAgreements: kas,
			})
			if err != nil {
				_ = conn.Close()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := p.start(ctx); err != nil {
				return err
			}
			defer p.ep.Stop()

			var zid string
			_ = p.ep.Do(func(s *zrtp.Session) error {
				zid = s.SelfZID().String()
				return nil
			})
			fmt.Printf("listening on %s, ZID %s\n", p.ep.LocalAddr(), zid)

			res, err := p.wait(ctx)
			if err != nil {
				return err
			}
			printOutcome("local", res)

			if markVerified {
				if err := p.ep.Do(func(s *zrtp.Session) error { return s.SASVerified() }); err != nil {
					return err
				}
				fmt.Println("SAS marked verified")
			}

			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":5004", "local UDP address")
	cmd.Flags().StringVar(&peerAddr, "peer", "", "peer UDP address (default: learned from the first packet)")
	cmd.Flags().StringVar(&cachePath, "cache", "", "persistent secret cache file (default: in-memory)")
	cmd.Flags().Uint32Var(&ssrc, "ssrc", 0x5a525450, "local SSRC of the ZRTP channel")
	cmd.Flags().StringVar(&keyAgreements, "key-agreement", "", "comma separated key agreement preference")
	cmd.Flags().BoolVar(&markVerified, "verified", false, "mark the SAS verified once secure")
	return cmd
}
