package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/database/users"
	"github.com/mrlokans/secrets/internal/entrypoint"
)

// CreateUserCommand registers a local account without going through the web
// form. The password is read from the terminal or from stdin, never from a flag.
type CreateUserCommand struct {
	Login string

	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	logger *zap.Logger
}

// NewCreateUserCommand creates a new CreateUserCommand
func NewCreateUserCommand(cfg *config.Config) *CreateUserCommand {
	return &CreateUserCommand{
		cfg:    cfg,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		logger: zap.NewNop(),
	}
}

// ParseFlags parses command line flags
func (cmd *CreateUserCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.StringVar(&cmd.Login, "login", "", "Login of the new account (required)")
	fs.StringVar(&cmd.cfg.Database.Path, "db", cmd.cfg.Database.Path, "Path to the database")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s create-user -login=<login> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Create a local account. The password is prompted for, or read\n")
		fmt.Fprintf(os.Stderr, "from the first line of stdin when it is not a terminal.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Login) == "" {
		return errors.New("login required: use -login")
	}
	return nil
}

// Run creates the account.
func (cmd *CreateUserCommand) Run(ctx context.Context) error {
	password, err := cmd.readPassword()
	if err != nil {
		return err
	}

	db, err := entrypoint.OpenDatabase(ctx, cmd.cfg, cmd.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	enc, err := entrypoint.NewEncryptor(cmd.cfg, cmd.logger)
	if err != nil {
		return err
	}

	svc, err := entrypoint.NewAuthService(cmd.cfg, users.NewRepository(db.DB), enc, cmd.logger)
	if err != nil {
		return err
	}

	user, err := svc.Register(ctx, cmd.Login, password)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateLogin) {
			return fmt.Errorf("login %q is already registered", cmd.Login)
		}
		return err
	}

	fmt.Fprintf(cmd.stdout, "Created user %s (%s)\n", user.LoginName(), user.ID)
	return nil
}

func (cmd *CreateUserCommand) readPassword() (string, error) {
	if f, ok := cmd.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.stdout, "Password: ")
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.stdout)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(cmd.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
