// Command watchlist-cli signs in to a watchlist server from a terminal and
// shows or updates the account.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"go-watchlist/pkg/authclient"
)

const usage = `usage: watchlist-cli [-server URL] <command> [identifier]

commands:
  register             create an account
  login <identifier>   sign in and show the account
  passwd <identifier>  sign in and change the password
  rename <identifier>  sign in and change the display name
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("watchlist-cli", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	server := fs.String("server", envOr("WATCHLIST_SERVER", "http://localhost:8080"), "server base URL")
	timeout := fs.Duration("timeout", 30*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := authclient.New(*server, authclient.WithTimeout(*timeout))
	if err != nil {
		return err
	}
	p := &prompter{reader: bufio.NewReader(in), out: out}

	cmd, rest := fs.Arg(0), fs.Args()
	if len(rest) > 0 {
		rest = rest[1:]
	}

	switch cmd {
	case "register":
		return register(ctx, client, p)
	case "login":
		user, err := login(ctx, client, p, rest)
		if err != nil {
			return err
		}
		printUser(out, user)
		return client.Logout(ctx)
	case "passwd":
		return changePassword(ctx, client, p, rest)
	case "rename":
		return rename(ctx, client, p, rest)
	default:
		fs.Usage()
		return errors.New("unknown command")
	}
}

func register(ctx context.Context, client *authclient.Client, p *prompter) error {
	var req authclient.RegisterRequest
	var err error
	if req.Name, err = p.text("Name"); err != nil {
		return err
	}
	if req.Email, err = p.text("Email"); err != nil {
		return err
	}
	if req.Username, err = p.text("Username"); err != nil {
		return err
	}
	if req.Password, err = p.password("Password: "); err != nil {
		return err
	}
	if req.ConfirmPassword, err = p.password("Confirm password: "); err != nil {
		return err
	}

	user, err := client.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out, "Account created.")
	printUser(p.out, user)
	return client.Logout(ctx)
}

func login(ctx context.Context, client *authclient.Client, p *prompter, args []string) (*authclient.User, error) {
	identifier := ""
	if len(args) > 0 {
		identifier = args[0]
	}
	if identifier == "" {
		var err error
		if identifier, err = p.text("Email or username"); err != nil {
			return nil, err
		}
	}

	password, err := p.password("Password: ")
	if err != nil {
		return nil, err
	}
	if _, err := client.Login(ctx, identifier, password); err != nil {
		return nil, err
	}
	return client.Me(ctx)
}

func changePassword(ctx context.Context, client *authclient.Client, p *prompter, args []string) error {
	if _, err := login(ctx, client, p, args); err != nil {
		return err
	}
	defer client.Logout(ctx)

	current, err := p.password("Current password: ")
	if err != nil {
		return err
	}
	next, err := p.password("New password: ")
	if err != nil {
		return err
	}
	if err := client.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(p.out, "Password changed. Other sessions were signed out.")
	return nil
}

func rename(ctx context.Context, client *authclient.Client, p *prompter, args []string) error {
	if _, err := login(ctx, client, p, args); err != nil {
		return err
	}
	defer client.Logout(ctx)

	name, err := p.text("New display name")
	if err != nil {
		return err
	}
	user, err := client.UpdateProfile(ctx, authclient.ProfileUpdate{Name: &name})
	if err != nil {
		return err
	}
	printUser(p.out, user)
	return nil
}

func printUser(w io.Writer, u *authclient.User) {
	fmt.Fprintf(w, "%s (@%s) <%s>\n", u.Name, u.Username, u.Email)
	fmt.Fprintf(w, "  id:     %s\n", u.ID)
	fmt.Fprintf(w, "  role:   %s\n", u.Role)
	if !u.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  joined: %s\n", u.CreatedAt.Format(time.RFC3339))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
