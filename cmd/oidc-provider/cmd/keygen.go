package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oidc-provider/server"
)

const minKeyBits = 2048

func newKeygenCmd() *cobra.Command {
	var (
		bits int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key for --signing-key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bits < minKeyBits {
				return fmt.Errorf("--bits must be at least %d", minKeyBits)
			}

			priv, err := rsa.GenerateKey(rand.Reader, bits)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			pemBytes, err := server.EncodePrivateKeyPEM(priv)
			if err != nil {
				return err
			}
			keys, err := server.NewKeySet(priv, "")
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(pemBytes)
			} else {
				err = os.WriteFile(out, pemBytes, 0o600)
			}
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "kid: %s\n", keys.KeyID())
			return nil
		},
	}

	cmd.Flags().IntVar(&bits, "bits", minKeyBits, "RSA key size")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, stdout when empty")
	return cmd
}
