package main

import (
	"flag"
	"fmt"
	"os"

	"yieldvault/config"
	"yieldvault/core"
	"yieldvault/observability/logging"
	"yieldvault/storage"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a YAML scenario")
	level := flag.String("log-level", "error", "protocol log level")
	flag.Parse()
	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: vault-sim -scenario <file.yaml>")
		os.Exit(2)
	}
	if err := run(*scenarioPath, *level); err != nil {
		fmt.Fprintf(os.Stderr, "vault-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(path, level string) error {
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	cfg := config.Default()
	if sc.Config != "" {
		if cfg, err = config.Load(sc.Config); err != nil {
			return err
		}
	}
	logger := logging.SetupWithOptions("vault-sim", "sim", logging.Options{Level: level, Output: os.Stderr})
	protocol, err := core.New(cfg, storage.NewMemDB(), core.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer protocol.Close()

	if sc.Name != "" {
		fmt.Printf("scenario %s\n", sc.Name)
	}
	if err := (&Runner{protocol: protocol, out: os.Stdout}).Run(sc); err != nil {
		return err
	}
	digest, err := protocol.Digest()
	if err != nil {
		return err
	}
	fmt.Printf("state digest %x\n", digest)
	return nil
}
