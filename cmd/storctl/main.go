package main

import (
    "log"

    "github.com/spf13/cobra"

    relcli "github.com/housemecn/rustfs/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "storctl",
        Short:         "rustfs reliability management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all reliability commands from pkg/cli for reuse in services
    relcli.AddAll(root)
    return root
}
