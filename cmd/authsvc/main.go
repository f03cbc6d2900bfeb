// Command authsvc runs the authentication service and its operator tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath = envOr("AUTHSVC_CONFIG", "")
		envFile    = ".env"
	)

	root := &cobra.Command{
		Use:           "authsvc",
		Short:         "Session authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "YAML config file (env AUTHSVC_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "dotenv file loaded before the config; missing files are skipped")

	load := func() (*runtime, error) {
		return newRuntime(configPath, envFile)
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(migrateCmd(load))
	root.AddCommand(accountCmds(load)...)
	root.AddCommand(loadtestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
