package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"histclean/internal/archive"
	internaldb "histclean/internal/db"
	"histclean/internal/db/repository"
	"histclean/internal/registry"
	"histclean/internal/service/cleanup"
)

// app holds the wired components shared by the subcommands.
type app struct {
	logger   *slog.Logger
	target   *internaldb.Target
	ledgerW  *sql.DB
	ledgerR  *sql.DB
	schema   *repository.SchemaRepo
	registry *registry.Registry
	runs     *repository.RunRepo
	service  *cleanup.Service
}

// appOptions selects the optional parts of the wiring.
type appOptions struct {
	target     bool   // open the application database
	archiveURI string // archive deleted snapshots here when set
}

// open wires the components a subcommand needs. The caller must Close the app.
func (g *globalOptions) open(ctx context.Context, opts appOptions) (_ *app, err error) {
	a := &app{logger: g.logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.ledgerW, a.ledgerR, err = internaldb.OpenLedger(g.ledger)
	if err != nil {
		return nil, err
	}
	a.runs = repository.NewRunRepo(a.ledgerW, a.ledgerR)

	if !opts.target {
		return a, nil
	}
	if g.dsn == "" {
		return nil, errors.New("no database configured: use --dsn, HISTCLEAN_DSN or database.dsn in the config file")
	}

	a.target, err = internaldb.OpenTarget(ctx, g.driver, g.dsn, 0)
	if err != nil {
		return nil, err
	}
	a.schema = repository.NewSchemaRepo(a.target)
	a.registry, err = registry.New(a.schema, g.file.DomainModels(), g.logger)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}

	a.service = cleanup.NewService(repository.NewHistoryRepo(a.target, a.schema), g.logger)
	a.service.SetRunRepository(a.runs)

	if opts.archiveURI != "" {
		arch, err := archive.Open(ctx, opts.archiveURI, g.archiveCredentials())
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.service.SetArchiver(arch)
	}
	return a, nil
}

// Close releases every open pool.
func (a *app) Close() {
	if a.target != nil {
		_ = a.target.Close()
	}
	if a.ledgerR != nil {
		_ = a.ledgerR.Close()
	}
	if a.ledgerW != nil {
		_ = a.ledgerW.Close()
	}
}

func (g *globalOptions) archiveURI(flag string) string {
	return firstNonEmpty(flag, g.env.ArchiveURI, g.file.Archive)
}

func (g *globalOptions) archiveCredentials() archive.Credentials {
	c := archive.Credentials{
		GCSKeyFile:       g.env.GCSKeyFile,
		AzureAccountName: g.env.AzureAccountName,
		AzureAccountKey:  g.env.AzureAccountKey,
	}
	if g.env.HasS3Config() {
		c.S3KeyID = *g.env.S3KeyID
		c.S3Secret = *g.env.S3Secret
	}
	if g.env.S3Endpoint != nil {
		c.S3Endpoint = *g.env.S3Endpoint
	}
	if g.env.S3Region != nil {
		c.S3Region = *g.env.S3Region
	}
	return c
}
