package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/powerpool/powerindex-keeper/internal/logger"
)

func main() {
	_ = godotenv.Load()
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "pokectl",
		Usage: "Inspect a keeper deployment descriptor and dry-run its strategies and incentives",
		Before: func(ctx context.Context, cmd *cli.Command) error {
			logger.Initialize(cmd.String("log-level"))
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "deployment",
				Usage:    "deployment descriptor to load",
				Aliases:  []string{"d"},
				Sources:  cli.EnvVars("DEPLOYMENT_FILE"),
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "after",
				Usage: "advance the ledger clock this far past the descriptor start before running the command",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "trace, debug, info, warn or error",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			inspectCmd(),
			weightsCmd(),
			quoteCmd(),
			pokeCmd(),
		},
	}
}
