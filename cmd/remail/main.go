// main.go - Remail command line client.
// Copyright (C) 2024  The remail authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/cypherpunks/remail/client"
	"github.com/cypherpunks/remail/config"
	"github.com/cypherpunks/remail/log"
	"github.com/cypherpunks/remail/onion"
	"github.com/cypherpunks/remail/pgp"
	"github.com/cypherpunks/remail/pgp/gpg"
	"github.com/cypherpunks/remail/pgp/openpgp"
)

type flags struct {
	ConfigFile string
	Chain      []string
	Headers    []string
	Redundancy int
	Format     string
	Output     string
	Stats      string
	Offline    bool
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "remail [message]",
		Short: "Send a message anonymously through a chain of remailers",
		Long: `remail builds a nested cypherpunk envelope for a chain of anonymous
remailers: each hop decrypts one layer, learning only the next hop's
address.  The relay directory is pulled from a remailer statistics site
and merged with the remailers declared in the configuration file.

The message is read from the command line, or from stdin when the
argument is absent or '-'.`,
		Example: `  # Three named hops, one envelope on stdout
  remail -f remail.toml -c paranoia -c dizum -c banana "hello"

  # Two random hops, three redundant envelopes as mailto URLs
  echo hello | remail -f remail.toml -c '*' -c '*' -r 3 -m mailto`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &f)
		},
	}

	cmd.Flags().StringVarP(&f.ConfigFile, "config", "f", "remail.toml", "configuration file")
	cmd.Flags().StringArrayVarP(&f.Chain, "chain", "c", nil, "remailer chain, one hop per flag ('*' draws a random remailer)")
	cmd.Flags().StringArrayVarP(&f.Headers, "header", "H", nil, "extra header line for every layer (eg: 'X-Header: Me')")
	cmd.Flags().IntVarP(&f.Redundancy, "redundancy", "r", 1, "number of independently encrypted envelopes to produce")
	cmd.Flags().StringVarP(&f.Format, "format", "m", "cypherpunk", "output format (cypherpunk|mailto|eml)")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "output file stem, stdout when empty")
	cmd.Flags().StringVarP(&f.Stats, "stats", "s", "", "remailer statistics base URL, overrides the configuration")
	cmd.Flags().BoolVar(&f.Offline, "offline", false, "use the cached directory snapshot, do not touch the network")
	cmd.MarkFlagRequired("chain")

	return cmd
}

func run(cmd *cobra.Command, args []string, f *flags) error {
	mode, err := onion.ParseMode(f.Format)
	if err != nil {
		return err
	}

	plaintext, err := readMessage(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(f.ConfigFile)
	if err != nil {
		return err
	}
	if f.Stats != "" {
		cfg.Directory.StatsSource = f.Stats
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}

	backend, err := newPGPBackend(cfg)
	if err != nil {
		return err
	}

	c, err := client.New(cfg, backend, logBackend)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if f.Offline {
		if err := c.LoadCachedDirectory(); err != nil {
			return err
		}
	} else if err := c.UpdateDirectory(ctx); err != nil {
		return err
	}

	for _, kerr := range c.ImportKeys(ctx) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", kerr)
	}

	result, err := c.Send(ctx, f.Chain, f.Headers, f.Redundancy, plaintext)
	if err != nil {
		return err
	}
	for _, tok := range result.Dropped {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: chain token '%v' was skipped\n", tok)
	}
	for _, aerr := range result.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "attempt failed: %v\n", aerr)
	}

	if err := writeEnvelopes(cmd.OutOrStdout(), result.Envelopes, mode, f.Output); err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d attempts failed", len(result.Failures), f.Redundancy)
	}
	return nil
}

func readMessage(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from stdin: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("no message provided")
	}
	return b, nil
}

func newPGPBackend(cfg *config.Config) (pgp.Backend, error) {
	switch cfg.PGP.Backend {
	case "gpg":
		return gpg.New("", true)
	case "openpgp":
		return openpgp.New(), nil
	default:
		return nil, fmt.Errorf("unknown PGP backend '%v'", cfg.PGP.Backend)
	}
}

func writeEnvelopes(stdout io.Writer, envelopes []onion.Envelope, mode onion.Mode, stem string) error {
	for i, env := range envelopes {
		out, err := onion.FormatEnvelope(env, mode)
		if err != nil {
			return err
		}
		if stem == "" {
			if _, err := io.WriteString(stdout, out+"\n"); err != nil {
				return err
			}
			continue
		}
		name := fmt.Sprintf("%s-%d.%s", stem, i+1, mode.FileExtension())
		if err := os.WriteFile(name, []byte(out), 0600); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
