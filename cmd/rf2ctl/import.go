package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/snomed-core/termcore/internal/ingest"
)

// fileFlags holds the per-kind archive file paths supplied on the command
// line, mirroring ingest.ArchiveSource's fields one for one rather than
// inventing an RF2 archive-layout convention to auto-discover them.
type fileFlags struct {
	concepts              string
	descriptions          string
	statedRelationships   string
	inferredRelationships string
	concreteRelationships string
	identifiers           string
	referenceSetMembers   string
}

func (f *fileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.concepts, "concepts", "", "path to a Concept snapshot/delta file")
	cmd.Flags().StringVar(&f.descriptions, "descriptions", "", "path to a Description snapshot/delta file")
	cmd.Flags().StringVar(&f.statedRelationships, "stated-relationships", "", "path to a stated Relationship snapshot/delta file")
	cmd.Flags().StringVar(&f.inferredRelationships, "inferred-relationships", "", "path to an inferred Relationship snapshot/delta file")
	cmd.Flags().StringVar(&f.concreteRelationships, "concrete-relationships", "", "path to a concrete-valued Relationship snapshot/delta file")
	cmd.Flags().StringVar(&f.identifiers, "identifiers", "", "path to an Identifier snapshot/delta file")
	cmd.Flags().StringVar(&f.referenceSetMembers, "members", "", "path to a Reference Set Member snapshot/delta file")
}

// open resolves the flags into an ingest.ArchiveSource, opening only the
// files actually supplied. Every opened file is returned alongside so the
// caller can close them once ingestion finishes.
func (f *fileFlags) open() (ingest.ArchiveSource, []io.Closer, error) {
	var src ingest.ArchiveSource
	var closers []io.Closer

	open := func(path string, dest *io.Reader) error {
		if path == "" {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		*dest = file
		closers = append(closers, file)
		return nil
	}

	for _, step := range []struct {
		path string
		dest *io.Reader
	}{
		{f.concepts, &src.Concepts},
		{f.descriptions, &src.Descriptions},
		{f.statedRelationships, &src.StatedRelationships},
		{f.inferredRelationships, &src.InferredRelationships},
		{f.concreteRelationships, &src.ConcreteRelationships},
		{f.identifiers, &src.Identifiers},
		{f.referenceSetMembers, &src.ReferenceSetMembers},
	} {
		if err := open(step.path, step.dest); err != nil {
			closeAll(closers)
			return src, nil, err
		}
	}
	return src, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func newImportCmd(getApp func() *app) *cobra.Command {
	var (
		branch                  string
		importType              string
		modules                 []string
		createCodeSystemVersion bool
		clearEffectiveTimes     bool
		patchReleaseVersion     int
		internalRelease         bool
	)
	files := &fileFlags{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run an RF2 import job against a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			ctx := cmd.Context()

			cfg := ingest.JobConfig{
				Type:                    ingest.ImportType(importType),
				BranchPath:              branch,
				ModuleIDs:               modules,
				CreateCodeSystemVersion: createCodeSystemVersion,
				ClearEffectiveTimes:     clearEffectiveTimes,
				PatchReleaseVersion:     patchReleaseVersion,
				InternalRelease:         internalRelease,
			}

			job, err := a.coordinator.CreateJob(ctx, cfg)
			if err != nil {
				return fmt.Errorf("creating import job: %w", err)
			}

			src, closers, err := files.open()
			if err != nil {
				return fmt.Errorf("opening archive files: %w", err)
			}
			defer closeAll(closers)

			if err := a.coordinator.Run(ctx, job.ID, src); err != nil {
				return fmt.Errorf("import job %s failed: %w", job.ID, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch path to import onto")
	cmd.Flags().StringVar(&importType, "type", string(ingest.ImportDelta), "DELTA, SNAPSHOT or FULL")
	cmd.Flags().StringSliceVar(&modules, "module", nil, "restrict ingestion to this moduleId (repeatable); empty means all modules")
	cmd.Flags().BoolVar(&createCodeSystemVersion, "create-version", false, "create a code system version from the import's max effectiveTime")
	cmd.Flags().BoolVar(&clearEffectiveTimes, "clear-effective-times", false, "null out effectiveTime on every ingested row")
	cmd.Flags().IntVar(&patchReleaseVersion, "patch-release-version", -1, "effectiveTime whose rows may replace existing rows of the same effectiveTime instead of being skipped; -1 disables the patcher")
	cmd.Flags().BoolVar(&internalRelease, "internal-release", false, "mark the created code system version as an internal release")
	cmd.MarkFlagRequired("branch")
	files.register(cmd)

	return cmd
}
