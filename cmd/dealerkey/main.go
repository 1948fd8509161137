package main

import (
	"flag"
	"os"

	"github.com/louisbranch/housedealer/internal/platform/config"
	"github.com/louisbranch/housedealer/internal/tools/dealerkey"
)

func main() {
	cfg, err := dealerkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := dealerkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate keys: %v", err)
	}
}
