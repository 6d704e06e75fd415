package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// positionalArgs accepts none, or client id and engine count optionally
// followed by dataset and port base.
func positionalArgs(_ *cobra.Command, args []string) error {
	if len(args) == 1 || len(args) > 4 {
		return fmt.Errorf("want [client-id engine-count [dataset [port-base]]], got %d arguments", len(args))
	}
	return nil
}

// applyArgs stores positional arguments as explicit overrides, so they take
// precedence over flags, environment and config file.
func applyArgs(v *viper.Viper, args []string) error {
	if len(args) == 0 {
		return nil
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("client id: %w", err)
	}
	count, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("engine count: %w", err)
	}
	v.Set("client.id", id)
	v.Set("engines.count", count)
	if len(args) > 2 {
		v.Set("data.dataset", args[2])
	}
	if len(args) > 3 {
		port, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("port base: %w", err)
		}
		v.Set("engines.port_base", port)
	}
	return nil
}
