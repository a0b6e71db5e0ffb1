// Command rf2ctl is a standalone CLI over the ingestion, reference-integrity
// and MRCM packages, wired against the in-memory reference stores so the
// module can be exercised end to end without any external services.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snomed-core/termcore/internal/branchstore"
	"github.com/snomed-core/termcore/internal/branchstore/memstore"
	"github.com/snomed-core/termcore/internal/codesystem"
	"github.com/snomed-core/termcore/internal/config"
	"github.com/snomed-core/termcore/internal/docstore/memindex"
	"github.com/snomed-core/termcore/internal/ingest"
	"github.com/snomed-core/termcore/internal/integrity"
	"github.com/snomed-core/termcore/internal/mrcm"
	"github.com/snomed-core/termcore/internal/obs"
)

// app bundles the constructed collaborators every subcommand needs. A real
// deployment would split branch/document stores out to their own services;
// here both are the in-process reference implementations, matching the
// teacher's zero-dependency CLI mode.
type app struct {
	branches *memstore.Store
	docs     *memindex.Store
	codeSys  *codesystem.Registry
	jobs     *ingest.Registry

	coordinator *ingest.Coordinator
	integrity   *integrity.Engine
	mrcm        *mrcm.Updater
}

func newApp(settingsPath, wellKnownPath string) (*app, error) {
	v, err := config.BindCLI(settingsPath)
	if err != nil {
		return nil, err
	}
	settings := config.SettingsFromViper(v)
	if settings.MetricsEnabled {
		obs.SetEnabled(true)
	}

	wellKnown, err := config.LoadWellKnownIDs(wellKnownPath)
	if err != nil {
		return nil, err
	}

	branches := memstore.New()
	docs := memindex.New()
	branches.OnRollback(func(commitID string) {
		if err := docs.Rollback(context.TODO(), commitID); err != nil {
			obs.Logf("rf2ctl: rollback of commit %s failed: %v\n", commitID, err)
		}
	})

	codeSys := codesystem.New(branches)
	jobs := ingest.NewRegistry()
	coordinator := ingest.New(branches, docs, codeSys, jobs, nil)
	integrityEngine := integrity.New(branches, docs, codeSys, wellKnown, nil)
	updater := mrcm.New(branches, docs, wellKnown, mrcm.PassthroughGenerator{})

	coordinator.AddPreCommitHook(func(ctx context.Context, commit branchstore.Commit) error {
		integrityEngine.PreCommitCompletion(ctx, commit)
		return nil
	})
	coordinator.AddPreCommitHook(updater.PreCommitCompletion)

	return &app{
		branches:    branches,
		docs:        docs,
		codeSys:     codeSys,
		jobs:        jobs,
		coordinator: coordinator,
		integrity:   integrityEngine,
		mrcm:        updater,
	}, nil
}

func main() {
	var settingsPath, wellKnownPath string

	root := &cobra.Command{
		Use:   "rf2ctl",
		Short: "Ingest, check and auto-maintain a SNOMED CT content store",
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to a termcore settings YAML file")
	root.PersistentFlags().StringVar(&wellKnownPath, "wellknown", "", "path to a well-known concept id overrides TOML file")

	var theApp *app
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := newApp(settingsPath, wellKnownPath)
		if err != nil {
			return err
		}
		theApp = a
		return nil
	}

	root.AddCommand(newImportCmd(func() *app { return theApp }))
	root.AddCommand(newIntegrityCmd(func() *app { return theApp }))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
