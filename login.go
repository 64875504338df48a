package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/motion-uploader/internal/config"
	"github.com/tonimelisma/motion-uploader/internal/graph"
)

var errEmptyCode = errors.New("no authorization code entered")

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize the app and store a refresh token in the config file",
		Long: "Prints the Microsoft sign-in URL. After signing in, paste the code " +
			"(or the whole redirect URL) back here. The refresh token is written to " +
			"the [refresh_token] section of the config file.",
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	cfg := resolvedCfg
	d := cfg.Durations()

	store := config.NewStore(resolvedCfgPath, cfg, logger)
	flow := loginFlow{
		store:      store,
		endpoint:   graph.Endpoint(cfg.App.Tenant),
		httpClient: graph.NewHTTPClient(d.ConnectTimeout, d.DataTimeout),
		logger:     logger,
		newState:   graph.GenerateState,
	}

	if err := flow.run(cmd.Context(), cmd.InOrStdin(), os.Stderr); err != nil {
		return err
	}

	statusf(flagQuiet, "Login successful. Refresh token saved to %s\n", store.Path())

	return nil
}

// loginFlow is the interactive authorization-code exchange.
type loginFlow struct {
	store      graph.CredentialStore
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	logger     *slog.Logger
	newState   func() (string, error)
}

// run prints the sign-in URL to out, reads the code from in and exchanges
// it. The prompt is always shown, even with --quiet.
func (f *loginFlow) run(ctx context.Context, in io.Reader, out io.Writer) error {
	state, err := f.newState()
	if err != nil {
		return fmt.Errorf("generating OAuth state: %w", err)
	}

	fmt.Fprintf(out, "Open this URL in a browser and sign in:\n\n  %s\n\n",
		graph.AuthCodeURL(f.store, f.endpoint, state))
	fmt.Fprint(out, "Paste the code or the redirect URL: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading authorization code: %w", err)
	}

	code, err := parseAuthCode(line, state)
	if err != nil {
		return err
	}

	if _, err := graph.ExchangeCode(ctx, f.httpClient, f.store, f.endpoint, code, f.logger); err != nil {
		return err
	}

	return nil
}

// parseAuthCode accepts either a bare code or the redirect URL the browser
// landed on. A redirect URL must carry the expected state.
func parseAuthCode(input, wantState string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errEmptyCode
	}

	if !strings.Contains(input, "code=") && !strings.Contains(input, "error=") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}

	q := u.Query()

	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s: %s", e, q.Get("error_description"))
	}

	if got := q.Get("state"); got != "" && got != wantState {
		return "", errors.New("OAuth state mismatch: the redirect URL belongs to another login attempt")
	}

	code := q.Get("code")
	if code == "" {
		return "", errEmptyCode
	}

	return code, nil
}
