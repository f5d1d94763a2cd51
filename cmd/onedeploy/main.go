package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/service/reconcile"
	apiclient "github.com/zakisheriff/One-Deploy/pkg/api/client"
	"github.com/zakisheriff/One-Deploy/pkg/config"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	Login       string `json:"login,omitempty"`
}

var buildVersion = "dev"

const requestTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "login":
		err = commandLogin(ctx, args)
	case "repos":
		err = commandRepos(ctx, args)
	case "deploy":
		err = commandDeploy(ctx, args)
	case "projects":
		err = commandProjects(ctx, args)
	case "deployments":
		err = commandDeployments(ctx, args)
	case "status":
		err = commandStatus(ctx, args)
	case "domains":
		err = commandDomains(ctx, args)
	case "logs":
		err = commandLogs(ctx, args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func commandLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "GitHub personal access token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	if secret == "" {
		fmt.Print("GitHub token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return errors.New("a GitHub token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	session, err := client.LoginWithToken(reqCtx, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = session.Tokens.AccessToken
	cfg.Login = session.User.Login
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", session.User.Login)
	return nil
}

func commandRepos(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repos", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum number of repositories to display")
	fs.Parse(args)

	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	repos, err := client.ListRepos(reqCtx)
	if err != nil {
		return err
	}
	if *limit > 0 && *limit < len(repos) {
		repos = repos[:*limit]
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tREPOSITORY\tBRANCH\tLANGUAGE\tUPDATED")
	for _, r := range repos {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.FullName, r.DefaultBranch, r.Language, r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func commandDeploy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	repo := fs.String("repo", "", "Repository name or owner/name")
	branch := fs.String("branch", "", "Branch to deploy (default: repository default branch)")
	framework := fs.String("framework", "", "Framework preset override")
	watch := fs.Bool("watch", true, "Poll until the deployment finishes")
	interval := fs.Duration("interval", reconcile.DefaultPollInterval, "Polling interval when watching")
	maxAttempts := fs.Int("max-attempts", 200, "Maximum polls when watching (0 = unbounded)")
	fs.Parse(args)

	if strings.TrimSpace(*repo) == "" && fs.NArg() > 0 {
		*repo = fs.Arg(0)
	}
	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}

	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	repos, err := client.ListRepos(reqCtx)
	if err != nil {
		return err
	}
	selected, ok := findRepo(repos, *repo)
	if !ok {
		return fmt.Errorf("repository %q not found in your GitHub account", *repo)
	}
	input := apiclient.DeployInput{
		RepoName:      selected.Name,
		RepoFullName:  selected.FullName,
		RepoID:        selected.ID,
		DefaultBranch: selected.DefaultBranch,
		Framework:     strings.TrimSpace(*framework),
	}
	if b := strings.TrimSpace(*branch); b != "" {
		input.DefaultBranch = b
	}

	result, err := client.Deploy(reqCtx, input)
	if err != nil {
		return err
	}
	fmt.Printf("deployment queued: %s (project %s)\n", result.VercelDeploymentID, result.Project.Name)
	if !*watch {
		return nil
	}
	return watchDeployment(ctx, client, result.VercelDeploymentID, *interval, *maxAttempts)
}

func findRepo(repos []apiclient.Repo, query string) (apiclient.Repo, bool) {
	query = strings.TrimSpace(query)
	for _, r := range repos {
		if strings.EqualFold(r.FullName, query) || strings.EqualFold(r.Name, query) {
			return r, true
		}
	}
	return apiclient.Repo{}, false
}

// watchDeployment polls the API until the deployment is terminal, printing
// each status transition.
func watchDeployment(ctx context.Context, client *apiclient.Client, vercelID string, interval time.Duration, maxAttempts int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ticker := reconcile.TickerFunc(func(ctx context.Context, id string) (reconcile.Observation, error) {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		obs, err := client.Observe(reqCtx, id)
		if err != nil {
			if apiclient.IsRetryable(err) {
				return reconcile.Observation{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
			}
			return reconcile.Observation{}, err
		}
		return toObservation(obs), nil
	})
	poller := reconcile.NewPoller(ticker, logger, reconcile.WithInterval(interval), reconcile.WithMaxAttempts(maxAttempts))

	var lastStatus domain.DeploymentStatus
	final, err := poller.Run(ctx, vercelID, func(obs reconcile.Observation) {
		if obs.Status != lastStatus {
			fmt.Printf("status: %s\n", obs.Status)
			lastStatus = obs.Status
		}
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrPollExhausted) {
			return fmt.Errorf("%w; check later with 'onedeploy status %s'", err, vercelID)
		}
		return err
	}
	switch {
	case final.Failure != "":
		return fmt.Errorf("deployment failed: %s", final.Failure)
	case final.Status == domain.StatusReady:
		fmt.Printf("Your site is live at: %s\n", final.URL)
		return nil
	default:
		return fmt.Errorf("deployment finished with status %s", final.Status)
	}
}

func toObservation(obs apiclient.Observation) reconcile.Observation {
	return reconcile.Observation{
		DeploymentID:  obs.DeploymentID,
		VercelID:      obs.VercelDeploymentID,
		ProjectID:     obs.ProjectID,
		ProviderState: obs.ProviderState,
		Status:        domain.DeploymentStatus(obs.Status),
		URL:           obs.URL,
		Terminal:      obs.Terminal,
		Changed:       obs.Changed,
		Failure:       obs.Failure,
	}
}

func commandProjects(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch sub {
	case "list":
		projects, err := client.ListProjects(reqCtx)
		if err != nil {
			return err
		}
		tw := newTable()
		fmt.Fprintln(tw, "NAME\tREPOSITORY\tSTATUS\tURL")
		for _, p := range projects {
			status, url := "-", ""
			if p.LatestDeployment != nil {
				status, url = p.LatestDeployment.Status, p.LatestDeployment.URL
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.GithubRepo, status, url)
		}
		return tw.Flush()
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: onedeploy projects delete <name>")
		}
		if err := client.DeleteProject(reqCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("project %s deleted\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown projects command: %s", sub)
	}
}

func commandDeployments(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: onedeploy deployments <project>")
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	project, deployments, err := client.ListDeployments(reqCtx, args[0])
	if err != nil {
		return err
	}
	if project == nil {
		fmt.Printf("project %s is not tracked\n", args[0])
		return nil
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tSTATUS\tURL\tCREATED")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.VercelDeploymentID, d.Status, d.URL, d.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func commandStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	watch := fs.Bool("watch", false, "Poll until the deployment finishes")
	interval := fs.Duration("interval", reconcile.DefaultPollInterval, "Polling interval when watching")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: onedeploy status [--watch] <deployment-id>")
	}
	vercelID := fs.Arg(0)

	client, err := authedClient()
	if err != nil {
		return err
	}
	if *watch {
		return watchDeployment(ctx, client, vercelID, *interval, 0)
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	obs, err := client.Observe(reqCtx, vercelID)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\n", obs.Status)
	if obs.URL != "" {
		fmt.Printf("url: %s\n", obs.URL)
	}
	if obs.Failure != "" {
		fmt.Printf("failure: %s\n", obs.Failure)
	}
	return nil
}

func commandDomains(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: onedeploy domains [list|add|remove] <project> [domain]")
	}
	sub, project := args[0], args[1]
	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch sub {
	case "list":
		domains, err := client.ListDomains(reqCtx, project)
		if err != nil {
			return err
		}
		tw := newTable()
		fmt.Fprintln(tw, "DOMAIN\tVERIFIED")
		for _, d := range domains {
			fmt.Fprintf(tw, "%s\t%t\n", d.Name, d.Verified)
		}
		return tw.Flush()
	case "add", "remove":
		if len(args) != 3 {
			return fmt.Errorf("usage: onedeploy domains %s <project> <domain>", sub)
		}
		if sub == "add" {
			d, err := client.AddDomain(reqCtx, project, args[2])
			if err != nil {
				return err
			}
			fmt.Printf("domain %s added (verified=%t)\n", d.Name, d.Verified)
			return nil
		}
		if err := client.RemoveDomain(reqCtx, project, args[2]); err != nil {
			return err
		}
		fmt.Printf("domain %s removed\n", args[2])
		return nil
	default:
		return fmt.Errorf("unknown domains command: %s", sub)
	}
}

func commandLogs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Maximum number of log lines")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: onedeploy logs [--limit N] <project>")
	}
	client, err := authedClient()
	if err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	entries, err := client.FetchLogs(reqCtx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s [%s] %s: %s\n", e.CreatedAt.Format(time.RFC3339), e.Level, e.Source, e.Message)
	}
	return nil
}

func authedClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("please login first using 'onedeploy login'")
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithToken(cfg.AccessToken))
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// loadConfig reads the saved session. ONEDEPLOY_API_URL overrides the stored
// API address.
func loadConfig() (cliConfig, error) {
	cfg := cliConfig{APIBaseURL: apiclient.DefaultBaseURL}
	path, err := configPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.APIBaseURL = config.GetString("ONEDEPLOY_API_URL", cfg.APIBaseURL)
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "onedeploy", "config.json"), nil
}

func printUsage() {
	fmt.Printf("onedeploy CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	onedeploy login [--token ghp_...] [--api http://localhost:4000]
	onedeploy repos [--limit N]
	onedeploy deploy --repo <name|owner/name> [--branch main] [--framework nextjs] [--watch=false]
	onedeploy projects [list]
	onedeploy projects delete <name>
	onedeploy deployments <project>
	onedeploy status [--watch] <deployment-id>
	onedeploy domains list <project>
	onedeploy domains add|remove <project> <domain>
	onedeploy logs [--limit N] <project>
	onedeploy version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
