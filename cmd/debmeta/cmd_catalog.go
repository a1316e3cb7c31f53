package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/etnz/debmeta/github"
	"github.com/etnz/debmeta/manifest"
)

var shortCatalogHelp = "Build an APT catalog from a manifest"
var longCatalogHelp = `
The catalog command reads the control file of every package listed by the
manifest, and of every .deb asset released by its GitHub repositories, then
writes the Packages, Packages.gz and Release indices.

The Release file is signed into InRelease when GPG_PRIVATE_KEY holds an
armored private key. GITHUB_TOKEN, when set, authenticates GitHub requests.

Events are printed to stdout as JSON lines.
`

var catalogDescs = map[string]string{
	"manifest": "Manifest file (.yaml, .yml or .json)",
	"out":      "Output directory, overriding the manifest path",
}

type cmdCatalog struct {
	Manifest string `long:"manifest" required:"yes"`
	Out      string `long:"out"`
}

func init() {
	addCommand("catalog", shortCatalogHelp, longCatalogHelp, func() flags.Commander { return &cmdCatalog{} }, catalogDescs)
}

func (cmd *cmdCatalog) Execute(args []string) error {
	return cmd.run(context.Background(), args)
}

func (cmd *cmdCatalog) run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	c, err := manifest.NewCatalog(cmd.Manifest)
	if err != nil {
		return err
	}
	if cmd.Out != "" {
		out, err := filepath.Abs(cmd.Out)
		if err != nil {
			return err
		}
		c.Path = out
	}

	gh := &github.Client{Token: os.Getenv("GITHUB_TOKEN")}
	return c.Compile(ctx, os.Getenv("GPG_PRIVATE_KEY"), gh, func(e fmt.Stringer) {
		fmt.Fprintln(Stdout, e)
	})
}
