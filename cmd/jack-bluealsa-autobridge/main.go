// Command jack-bluealsa-autobridge supervises JACK bridges for Bluetooth
// audio devices exported by BlueALSA on the system D-Bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rations/jack-bridge/pkg/config"
	"github.com/rations/jack-bridge/pkg/daemon"
	"github.com/rations/jack-bridge/pkg/tap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the KEY=VALUE configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	d, err := daemon.New(daemon.Options{
		ConfigPath: *configPath,
		LogLevel:   tap.ParseLevel(*logLevel),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "jack-bluealsa-autobridge: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "jack-bluealsa-autobridge: %v\n", err)
		os.Exit(1)
	}
}
