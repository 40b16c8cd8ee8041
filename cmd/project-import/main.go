// Command project-import imports annotated image projects from team storage
// or a web link into a platform workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fpang/image-project-importer/internal/cli"
	"github.com/fpang/image-project-importer/internal/config"
	"github.com/fpang/image-project-importer/internal/jobs"
	"github.com/fpang/image-project-importer/internal/jobutil"
	"github.com/fpang/image-project-importer/internal/lambdaboot"
	"github.com/fpang/image-project-importer/internal/logging"
	"github.com/fpang/image-project-importer/internal/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	v        = config.New()
	pickFlag bool
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "project-import",
	Short: "Import annotated image projects into a workspace",
	Long: `Project Import takes a folder or archive from team storage, or an archive
link, finds the image projects inside it, repairs their annotations and
uploads them to a workspace. Projects that cannot be uploaded with their
annotations are imported as plain images.

Every flag can also be set through an IMPORT_* environment variable
(e.g. IMPORT_WORKSPACE_ID, IMPORT_STORE_BUCKET, IMPORT_PLATFORM_TOKEN).

Examples:
  project-import --workspace-id 12 --folder /projects/coco_subset
  project-import --workspace-id 12 --file /uploads/dataset.tar --project-name Cars
  project-import --workspace-id 12 --archive-url "https://www.dropbox.com/s/abc/data.zip?dl=0"
  project-import --workspace-id 12 --pick   # choose a local folder in a dialog`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	f := rootCmd.Flags()
	f.Int("team-id", 0, "Team that owns the source files")
	f.Int("workspace-id", 0, "Workspace that receives the projects")
	f.Int("task-id", 0, "Platform task to report progress to (0 = none)")
	f.String("folder", "", "Team storage folder to import")
	f.String("file", "", "Team storage archive (.zip, .tar, .tar.gz) to import")
	f.String("archive-url", "", "HTTP(S) link to an archive to import")
	f.String("project-name", "", "Name of the single project to create")
	f.String("storage-dir", "", "Local working directory for downloads")
	f.String("store", "", "Team storage backend (s3|local)")
	f.String("bucket", "", "S3 bucket holding team files")
	f.String("prefix", "", "Key prefix of team files inside the bucket")
	f.String("local-root", "", "Root directory of the local team storage")
	f.String("platform-url", "", "Platform API base URL")
	f.String("token", "", "Platform API token")
	f.String("token-ssm-param", "", "SSM parameter holding the platform API token")
	f.String("run-table", "", "DynamoDB table for run records (empty = disabled)")
	f.Bool("recursive", false, "Also collect images from subfolders of loose image folders")
	f.BoolVar(&pickFlag, "pick", false, "Choose a local folder to import in a dialog")

	bind(v, map[string]string{
		config.KeyTeamID:        "team-id",
		config.KeyWorkspaceID:   "workspace-id",
		config.KeyTaskID:        "task-id",
		config.KeyFolder:        "folder",
		config.KeyFile:          "file",
		config.KeyArchiveURL:    "archive-url",
		config.KeyProjectName:   "project-name",
		config.KeyStorageDir:    "storage-dir",
		config.KeyStoreKind:     "store",
		config.KeyStoreBucket:   "bucket",
		config.KeyStorePrefix:   "prefix",
		config.KeyStoreRoot:     "local-root",
		config.KeyPlatformURL:   "platform-url",
		config.KeyPlatformToken: "token",
		config.KeyTokenParam:    "token-ssm-param",
		config.KeyRunTable:      "run-table",
		config.KeyRecursive:     "recursive",
	})
}

func bind(v *viper.Viper, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()

	if pickFlag {
		if err := pickLocalFolder(); err != nil {
			return err
		}
	}

	req, err := config.Load(v)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := lambdaboot.Init(ctx, req, cli.NewConsoleSink(os.Stderr))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return err
	}
	lambdaboot.StartupLog("project-import", req, initStart).Version(version).Log()

	runID := jobs.NewRunID()
	rec := jobutil.StartRun(ctx, rt.RunStore, runID, req)

	start := time.Now()
	summary, runErr := pipeline.Run(ctx, req, rt.Deps)
	jobutil.FinishRun(context.WithoutCancel(ctx), rt.RunStore, rec, summary, runErr)

	if summary != nil {
		if err := summary.WriteText(os.Stdout); err != nil {
			log.Warn().Err(err).Msg("Failed to print summary")
		}
	}
	fmt.Printf("Elapsed: %s\n", cli.FormatDurationShort(time.Since(start)))

	return runErr
}

// pickLocalFolder asks for a folder and points the local store at it.
func pickLocalFolder() error {
	picked, err := cli.PickDirectory()
	if err != nil {
		return err
	}
	abs, err := cli.ValidateAndResolveDirectory(afero.NewOsFs(), picked)
	if err != nil {
		return err
	}
	root, folder := cli.SplitLocalFolder(abs)
	v.Set(config.KeyStoreKind, config.StoreLocal)
	v.Set(config.KeyStoreRoot, root)
	v.Set(config.KeyFolder, folder)
	log.Info().Str("folder", abs).Msg("Local folder selected")
	return nil
}
