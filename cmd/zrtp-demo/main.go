// zrtp-demo exercises the ZRTP key agreement engine.
//
// Usage:
//
//	zrtp-demo handshake [--udp] [--key-agreement X255] [--cache-dir DIR]
//	zrtp-demo listen --listen :5004 [--peer HOST:PORT] [--cache FILE]
//	zrtp-demo cache show --cache FILE
//	zrtp-demo cache forget --cache FILE ZID
//
// handshake runs two endpoints in one process, over an in-memory pipe or
// loopback UDP, prints the SAS both sides agreed on and sends one SRTP
// packet protected with the negotiated keys. listen runs a single endpoint
// against a remote peer.
package main

import (
	"os"

	"github.com/backkem/zrtp/cmd/zrtp-demo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
