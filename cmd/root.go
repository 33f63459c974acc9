// Package cmd implements fluxcap's command-line surface: a single root
// command (no subcommands), matching spec.md §6's flag table. Grounded on
// the teacher's cobra-based cmd/root.go shape, stripped of the
// client/daemon RPC split since fluxcap is one process, not a CLI talking
// to a separately managed daemon over a control socket.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/log"
)

// version is set at build time via -ldflags, mirroring the teacher's own
// version.go pattern; left as a plain var since no build pipeline is wired
// up in this exercise.
var version = "dev"

const defaultConfigFile = "/etc/fluxcap/fluxcap.conf"

var opts struct {
	iface      string
	readFile   string
	configFile string
	configTest bool
	daemonize  bool
	showVer    bool
}

var rootCmd = &cobra.Command{
	Use:   "fluxcap",
	Short: "Passive network traffic analyzer",
	Long: `fluxcap is a passive network traffic analyzer: it decodes captured
frames, reassembles fragmented IP datagrams, tracks TCP connection state,
and maintains aging flow and host tables, either from a live interface or
an offline capture file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&opts.iface, "interface", "i", "", "capture live from IFACE")
	flags.StringVarP(&opts.readFile, "read", "r", "", "read packets from capture FILE")
	flags.StringVarP(&opts.configFile, "config-file", "c", defaultConfigFile, "alternate configuration file")
	flags.BoolVarP(&opts.configTest, "config-test", "T", false, "parse the configuration file and exit")
	flags.BoolVarP(&opts.daemonize, "daemon", "d", false, "run in the background, detached from the controlling terminal")
	flags.BoolVarP(&opts.showVer, "version", "V", false, "print version and exit")
}

// Execute runs the root command and returns the process exit code, per
// spec.md §6: 0 success, 1 usage or configuration error, 255 fatal
// runtime error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		logFatalOrUsage(err)
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case fluxerr.IsFatal(err):
		return 255
	default:
		return 1
	}
}

func logFatalOrUsage(err error) {
	if fluxerr.IsFatal(err) {
		log.GetLogger().WithError(err).Error("fatal runtime error")
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

