package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "writepro",
		Short:   "WritePro — compliance-tracked diagnostic documentation gateway",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newAuditCmd(),
		newComplianceCmd(),
		newCacheCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
