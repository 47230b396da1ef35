package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/crypto"
)

// GenKeyCommand prints fresh secrets in the formats the configuration expects.
type GenKeyCommand struct {
	Kind string

	stdout io.Writer
}

// NewGenKeyCommand creates a new GenKeyCommand
func NewGenKeyCommand() *GenKeyCommand {
	return &GenKeyCommand{stdout: os.Stdout}
}

// ParseFlags parses command line flags
func (cmd *GenKeyCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("gen-key", flag.ContinueOnError)
	fs.StringVar(&cmd.Kind, "kind", "all", "Which secret to generate: encryption, session or all")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s gen-key [-kind=encryption|session|all]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Print new secrets as environment assignments.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	switch cmd.Kind {
	case "encryption", "session", "all":
		return nil
	default:
		return fmt.Errorf("unknown key kind %q", cmd.Kind)
	}
}

// Run prints the requested secrets.
func (cmd *GenKeyCommand) Run() error {
	if cmd.Kind == "encryption" || cmd.Kind == "all" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.stdout, "CRYPTO_ENCRYPTION_KEY=%s\n", key)
	}
	if cmd.Kind == "session" || cmd.Kind == "all" {
		secret, err := auth.GenerateSessionSecret()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.stdout, "AUTH_SESSION_SECRET=%s\n", secret)
	}
	return nil
}
