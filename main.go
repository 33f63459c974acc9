// Command fluxcap is a passive network traffic analyzer: it decodes
// captured frames, reassembles fragmented IP datagrams, tracks TCP
// connection state, and maintains aging flow and host tables.
package main

import (
	"os"

	"github.com/anvilnet/fluxcap/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
