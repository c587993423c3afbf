package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/shipper/shippy/checksum"
	"github.com/shipper/shippy/compat"
	"github.com/shipper/shippy/config"
	"github.com/shipper/shippy/discovery"
	"github.com/shipper/shippy/network"
	"github.com/shipper/shippy/ratelimit"
	"github.com/shipper/shippy/upload"
	"github.com/spf13/pflag"
)

var errUploadsFailed = errors.New("one or more builds failed to upload")

type app struct {
	envRepo     env.Repository
	dotenvPaths []string
	stdin       io.Reader
	stdout      io.Writer
	logger      log.Logger
	workDir     string
}

func newApp(envRepo env.Repository, stdin io.Reader, stdout io.Writer) *app {
	return &app{
		envRepo:     envRepo,
		dotenvPaths: []string{config.DefaultDotenvPath},
		stdin:       stdin,
		stdout:      stdout,
		logger:      log.NewLogger(),
		workDir:     ".",
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	cfg, err := config.NewLoader(a.envRepo, a.dotenvPaths...).Load()
	if err != nil {
		return err
	}

	var username, password string
	var showVersion bool
	flagSet := pflag.NewFlagSet("shippy", pflag.ContinueOnError)
	flagSet.SetOutput(a.stdout)
	cfg.RegisterFlags(flagSet)
	flagSet.StringVar(&username, "username", "", "log in with this username and print the token")
	flagSet.StringVar(&password, "password", "", "password for --username")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	flagSet.Usage = func() {
		fmt.Fprintln(a.stdout, "Usage: shippy [flags] [build.zip ...]")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(a.stdout, "shippy %s\n", version)
		return nil
	}

	a.logger.EnableDebugLog(cfg.Debug)
	a.logger.Printf("Welcome to shippy (v.%s)!", version)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Debug {
		cfg.Print()
	}
	if !cfg.SkipUpdateCheck && cfg.UpdateCheckURL != "" {
		a.checkForUpdate(ctx, cfg.UpdateCheckURL)
	}

	clientConfig := network.DefaultConfig(cfg.ServerURL, string(cfg.Token))
	clientConfig.UserAgent = "shippy " + version
	client := network.NewClient(clientConfig, a.logger)

	client, err = a.authenticate(ctx, client, string(cfg.Token), username, password)
	if err != nil {
		return err
	}

	info, err := client.SystemInfo(ctx)
	if err != nil {
		return err
	}
	if err := compat.Check(info, version, compat.MinServerVersion); err != nil {
		return err
	}
	a.logger.Printf("Finished compatibility check. No problems found.")

	builds, err := a.findBuilds(ctx, client, cfg.Pattern, flagSet.Args())
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		a.logger.Warnf("No files matching the submission criteria were detected.")
		return nil
	}

	a.logger.Printf("Detected %d build(s):", len(builds))
	for _, build := range builds {
		a.logger.Printf("\t%s", build.Name)
	}

	prompt := newPrompter(a.stdin, a.stdout)
	if !cfg.Yes && len(builds) > 1 {
		fmt.Fprint(a.stdout, color.YellowString("Warning: you seem to be uploading multiple builds. "))
		if !prompt.confirm("Are you sure you want to continue?", false) {
			return nil
		}
	}

	uploadConfig := upload.DefaultConfig()
	uploadConfig.ChunkSize = cfg.ChunkSizeBytes()
	uploadConfig.Algorithm = checksum.Algorithm(info.ShippyUploadChecksumType)
	uploadConfig.DisableAfterUpload = cfg.DisableAfterUpload
	orchestrator := upload.NewOrchestrator(client, ratelimit.New(a.logger), newProgressPrinter(a.stdout), uploadConfig, a.logger)

	failed := 0
	for _, build := range builds {
		if !cfg.Yes && !prompt.confirm(fmt.Sprintf("Uploading build %s. Start?", build.Name), true) {
			continue
		}

		result, err := orchestrator.Upload(ctx, build.Path)
		if err != nil {
			failed++
			a.reportFailure(build, err)
			if upload.KindOf(err) == upload.KindCanceled {
				break
			}
			continue
		}

		fmt.Fprintln(a.stdout, color.GreenString("Successfully uploaded %s (build %s, %s sent in %d chunk(s)).",
			result.Filename, result.BuildID, units.HumanSize(float64(result.Bytes)), result.Chunks))
	}

	if failed > 0 {
		return errUploadsFailed
	}
	return nil
}

// checkForUpdate reports a newer shippy release. A failed check never stops an upload.
func (a *app) checkForUpdate(ctx context.Context, releaseURL string) {
	status, err := compat.NewUpdateChecker(releaseURL, a.logger).Check(ctx, version)
	if err != nil {
		a.logger.Warnf("Failed to check for shippy updates: %s", err)
		return
	}
	if status.Outdated {
		fmt.Fprintln(a.stdout, color.YellowString("%s", status.Message()))
		return
	}
	a.logger.Printf("%s", status.Message())
}

// authenticate logs in when credentials were given and checks that the token is accepted.
func (a *app) authenticate(ctx context.Context, client *network.Client, token, username, password string) (*network.Client, error) {
	if username != "" {
		original := client.ServerURL()
		result, err := client.Login(ctx, username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to log into server: %w", err)
		}

		fmt.Fprintf(a.stdout, "Token: %s\n", result.Token)
		if result.URLCorrected(original) {
			fmt.Fprintf(a.stdout, "The server redirected to HTTPS. Use %s=%s from now on.\n", config.ServerKey, result.ServerURL)
			client = client.WithServerURL(result.ServerURL)
		}
		client = client.WithToken(result.Token)
		token = result.Token
	}

	if token == "" {
		return nil, fmt.Errorf("no token configured: set %s or log in with --username and --password", config.TokenKey)
	}

	name, valid, err := client.TokenCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("check token: %w", err)
	}
	if !valid {
		return nil, errors.New("the token is invalid, log in again with --username and --password")
	}
	a.logger.Infof("Signed in as %s", name)

	return client, nil
}

func (a *app) findBuilds(ctx context.Context, client *network.Client, pattern string, paths []string) ([]discovery.Candidate, error) {
	finder := discovery.NewFinder(a.workDir, pattern, a.logger)

	filenamePattern, err := client.FilenamePattern(ctx)
	if err != nil {
		a.logger.Warnf("Failed to fetch the server's filename pattern: %s", err)
	}
	if finder, err = finder.WithFilenamePattern(filenamePattern); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		result, err := finder.Find()
		if err != nil {
			return nil, err
		}
		return result.Candidates, nil
	}

	var builds []discovery.Candidate
	for _, path := range paths {
		candidate, rejection := finder.Check(path)
		if rejection != nil {
			a.logger.Warnf("Skipping %s: %s", path, rejection.Reason)
			continue
		}
		builds = append(builds, candidate)
	}
	return builds, nil
}

func (a *app) reportFailure(build discovery.Candidate, err error) {
	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, color.RedString("Failed to upload %s: %s", build.Name, err))
	if upload.IsRetryable(err) {
		fmt.Fprintln(a.stdout, "Rerun shippy to resume the upload where it stopped.")
	}
}
