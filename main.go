package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirrobot01/reclaimarr/cmd/reclaimarr"
	"github.com/sirrobot01/reclaimarr/pkg/version"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/data", "path to the data folder")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		os.Stdout.WriteString(version.GetInfo().String() + "\n")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := reclaimarr.Start(ctx, configPath); err != nil {
		os.Stderr.WriteString("reclaimarr: " + err.Error() + "\n")
		os.Exit(1)
	}
}
