package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/kernel"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Out string
}

// KeygenResult is the keygen command's output. Seed is omitted when it was
// written to a file.
type KeygenResult struct {
	PublicKey string `json:"public_key"`
	Seed      string `json:"seed,omitempty"`
	KeyFile   string `json:"key_file,omitempty"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 signing key",
		Long: `Generate an ed25519 keypair for signing wofi objects.

The public key is printed as unpadded base64url, the form stored in
author.value. The 32-byte private seed is printed as hex, or written to
--out with mode 0600.

Examples:
  wofi keygen
  wofi keygen --out ~/.wofi/signing.key`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the hex seed to this file instead of printing it")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	kp, err := kernel.GenerateKeypair()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to generate key", err)
	}

	result := KeygenResult{PublicKey: kp.PublicKey}
	seed := hex.EncodeToString(kp.Seed)
	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, []byte(seed+"\n"), 0o600); err != nil {
			return WrapExitError(ExitCommandError, "failed to write key file", err)
		}
		result.KeyFile = opts.Out
	} else {
		result.Seed = seed
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "public key: %s\n", result.PublicKey)
	if result.Seed != "" {
		fmt.Fprintf(formatter.Writer, "seed:       %s\n", result.Seed)
	} else {
		fmt.Fprintf(formatter.Writer, "seed written to %s\n", result.KeyFile)
	}
	return nil
}

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions
	KeyFile string
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign <file|->",
		Short: "Sign a wofi object",
		Long: `Validate an unsigned object, sign its canonical content with the seed
in --key, and print the signed object in canonical form with author,
signature, and content_id set. The object must carry created_at.

Examples:
  wofi sign --key signing.key idea.json > idea.signed.json
  wofi sign --key signing.key idea.json | wofi ingest -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "file holding the hex ed25519 seed (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runSign(opts *SignOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	seed, err := loadSeed(opts.KeyFile)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("read input: %v", err), nil)
	}
	obj, err := kernel.ParseObject(data)
	if err != nil {
		return fail(formatter, ExitFailure, string(kernel.CodeOf(err)), err.Error(), nil)
	}

	signed, err := kernel.SignObject(obj, seed)
	if err != nil {
		code := string(kernel.CodeOf(err))
		if code == "" {
			code = ErrCodeGeneric
		}
		return fail(formatter, ExitFailure, code, err.Error(), nil)
	}

	if opts.Format == "json" {
		return formatter.Success(signed)
	}
	canonical, err := kernel.Canonicalize(signed)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to canonicalize signed object", err)
	}
	fmt.Fprintln(formatter.Writer, string(canonical))
	return nil
}

// loadSeed reads a hex ed25519 seed from path.
func loadSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file must hold a hex seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file must hold a %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}
