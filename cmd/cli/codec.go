package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/agromarket/internal/crypto/obfuscate"
)

func newCodecCommand(opts *options) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "codec",
		Short: "Encode or decode values with the session obfuscation codec",
	}
	cmd.PersistentFlags().StringVar(&key, "key", "", "codec key (AGM_OBFUSCATION_KEY)")

	codec := func() (*obfuscate.Codec, error) {
		if key != "" {
			return obfuscate.New(key)
		}
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, err
		}
		return obfuscate.New(cfg.ObfuscationKey)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode [value]",
		Short: "Obfuscate a value (stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec()
			if err != nil {
				return err
			}
			v, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Encode(v))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decode [value]",
		Short: "Reverse obfuscation (stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec()
			if err != nil {
				return err
			}
			v, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			out, err := c.Decode(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
