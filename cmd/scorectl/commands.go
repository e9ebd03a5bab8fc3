package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/yanqian/polyglot-score/internal/bootstrap"
	"github.com/yanqian/polyglot-score/internal/domain/auth"
	"github.com/yanqian/polyglot-score/internal/domain/score"
)

// deps is everything the subcommands need, built once per invocation.
type deps struct {
	repo      score.Repository
	scoreSvc  score.Service
	authSvc   auth.Service
	resources *bootstrap.Resources
	logger    *slog.Logger
}

func newDeps(repo score.Repository, scoreSvc score.Service, authSvc auth.Service, resources *bootstrap.Resources, logger *slog.Logger) *deps {
	return &deps{repo: repo, scoreSvc: scoreSvc, authSvc: authSvc, resources: resources, logger: logger}
}

type depsFactory func() (*deps, error)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the YAML config (defaults to $CONFIG_PATH or configs/config.yaml)",
	}

	fileFlag = &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "JSON file with the interviews to score, - for stdin",
		Required: true,
	}

	subjectFlag = &cli.StringFlag{
		Name:     "subject",
		Usage:    "Token subject",
		Required: true,
	}

	ttlFlag = &cli.DurationFlag{
		Name:  "ttl",
		Usage: "Token lifetime, auth.tokenTtl when unset",
	}
)

func newCommand(factory depsFactory, stdin io.Reader, stdout io.Writer) *cli.Command {
	var d *deps
	setup := func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if path := cmd.String(configFlag.Name); path != "" {
			if err := os.Setenv("CONFIG_PATH", path); err != nil {
				return ctx, err
			}
		}
		built, err := factory()
		if err != nil {
			return ctx, fmt.Errorf("wire dependencies: %w", err)
		}
		d = built
		return ctx, nil
	}
	teardown := func(ctx context.Context, cmd *cli.Command) error {
		if d != nil {
			d.resources.Close()
		}
		return nil
	}

	return &cli.Command{
		Name:    "scorectl",
		Usage:   "Operate the polyglot interview scorer from the command line",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "Download the pretrained model into the local cache",
				Before: setup,
				After:  teardown,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDownload(ctx, d, stdout)
				},
			},
			{
				Name:   "score",
				Usage:  "Score five interview answers",
				Flags:  []cli.Flag{fileFlag},
				Before: setup,
				After:  teardown,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runScore(ctx, d, cmd.String(fileFlag.Name), stdin, stdout)
				},
			},
			{
				Name:   "token",
				Usage:  "Issue a bearer token for the scoring API",
				Flags:  []cli.Flag{subjectFlag, ttlFlag},
				Before: setup,
				After:  teardown,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					token, err := d.authSvc.IssueToken(cmd.String(subjectFlag.Name), cmd.Duration(ttlFlag.Name))
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(stdout, token)
					return err
				},
			},
		},
	}
}

func runDownload(ctx context.Context, d *deps, stdout io.Writer) error {
	start := time.Now()
	if err := d.repo.DownloadPretrainedModel(ctx); err != nil {
		return fmt.Errorf("download pretrained model: %w", err)
	}
	d.logger.Info("model cache ready", "elapsed_ms", time.Since(start).Milliseconds())
	_, err := fmt.Fprintln(stdout, "model cache ready")
	return err
}

func runScore(ctx context.Context, d *deps, path string, stdin io.Reader, stdout io.Writer) error {
	interviews, err := readInterviews(path, stdin)
	if err != nil {
		return err
	}
	resp, err := d.scoreSvc.ScoreUserAnswer(ctx, interviews...)
	if err != nil {
		return err
	}
	d.logger.Info("batch scored", "batch_id", resp.BatchID)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// readInterviews accepts either {"interviews": [...]} or a bare array.
func readInterviews(path string, stdin io.Reader) ([]score.Interview, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read interviews: %w", err)
	}

	var req score.Request
	if err := json.Unmarshal(raw, &req); err == nil && len(req.Interviews) > 0 {
		return req.Interviews, nil
	}
	var list []score.Interview
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse interviews: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("no interviews in input")
	}
	return list, nil
}
