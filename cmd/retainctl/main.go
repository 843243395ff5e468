package main

import (
    "log"

    "github.com/spf13/cobra"

    retaincli "github.com/amirimatin/go-retainer/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "retainctl",
        Short:         "go-retainer node and retained message CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    retaincli.AddAll(root)
    return root
}
