// Package config builds the immutable import request from flags and
// IMPORT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/normalize"
)

// EnvPrefix prefixes every environment variable, e.g. IMPORT_WORKSPACE_ID.
const EnvPrefix = "IMPORT"

// Configuration keys.
const (
	KeyTeamID        = "team_id"
	KeyWorkspaceID   = "workspace_id"
	KeyTaskID        = "task_id"
	KeyFolder        = "folder"
	KeyFile          = "file"
	KeyArchiveURL    = "archive_url"
	KeyProjectName   = "project_name"
	KeyStorageDir    = "storage_dir"
	KeyStoreKind     = "store.kind"
	KeyStoreBucket   = "store.bucket"
	KeyStorePrefix   = "store.prefix"
	KeyStoreRoot     = "store.local_root"
	KeyPlatformURL   = "platform.url"
	KeyPlatformToken = "platform.token"
	KeyTokenParam    = "platform.token_ssm_param"
	KeyRunTable      = "run_table"
	KeyRecursive     = "recursive"
)

// Store backends.
const (
	StoreS3    = "s3"
	StoreLocal = "local"
)

// StoreConfig selects the team file storage backend.
type StoreConfig struct {
	Kind      string
	Bucket    string
	Prefix    string
	LocalRoot string
}

// PlatformConfig locates the platform API.
type PlatformConfig struct {
	URL   string
	Token string
	// TokenSSMParam names an SSM parameter holding the token when Token is empty.
	TokenSSMParam string
}

// Request is one import task. It is built once and passed to every stage.
type Request struct {
	TeamID      int
	WorkspaceID int
	TaskID      int
	Input       normalize.InputSpec
	// ProjectName overrides the folder-derived project name.
	ProjectName string
	StorageDir  string
	Store       StoreConfig
	Platform    PlatformConfig
	// RunTable is the DynamoDB table for run records; empty disables them.
	RunTable string
	// Recursive makes the images-only import descend into subfolders.
	Recursive bool
}

// New returns a viper instance with defaults and IMPORT_* environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyStorageDir, filepath.Join(os.TempDir(), "project-import"))
	v.SetDefault(KeyStoreKind, StoreS3)
	v.SetDefault(KeyPlatformURL, "https://app.example-platform.com/public/api/v3")
	v.SetDefault(KeyRecursive, false)
	return v
}

// Load reads a Request from v and validates it.
func Load(v *viper.Viper) (*Request, error) {
	input, err := selectInput(v.GetString(KeyFolder), v.GetString(KeyFile), v.GetString(KeyArchiveURL))
	if err != nil {
		return nil, err
	}
	req := &Request{
		TeamID:      v.GetInt(KeyTeamID),
		WorkspaceID: v.GetInt(KeyWorkspaceID),
		TaskID:      v.GetInt(KeyTaskID),
		Input:       input,
		ProjectName: strings.TrimSpace(v.GetString(KeyProjectName)),
		StorageDir:  v.GetString(KeyStorageDir),
		Store: StoreConfig{
			Kind:      v.GetString(KeyStoreKind),
			Bucket:    v.GetString(KeyStoreBucket),
			Prefix:    v.GetString(KeyStorePrefix),
			LocalRoot: v.GetString(KeyStoreRoot),
		},
		Platform: PlatformConfig{
			URL:           strings.TrimRight(v.GetString(KeyPlatformURL), "/"),
			Token:         v.GetString(KeyPlatformToken),
			TokenSSMParam: v.GetString(KeyTokenParam),
		},
		RunTable:  v.GetString(KeyRunTable),
		Recursive: v.GetBool(KeyRecursive),
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// selectInput picks the input by priority: folder, then file, then URL.
func selectInput(folder, file, rawURL string) (normalize.InputSpec, error) {
	switch {
	case folder != "":
		return normalize.Directory(folder), nil
	case file != "":
		return normalize.File(file), nil
	case rawURL != "":
		return normalize.URL(strings.TrimSpace(rawURL)), nil
	default:
		return normalize.InputSpec{}, apperr.Config("no input: set a folder, a file or an archive URL", nil)
	}
}

// Validate checks that the request can run.
func (r *Request) Validate() error {
	if r.Input.Kind == normalize.KindURL {
		if !strings.HasPrefix(r.Input.Path, "http://") && !strings.HasPrefix(r.Input.Path, "https://") {
			return apperr.Config(fmt.Sprintf("archive URL must start with http:// or https://, got %q", r.Input.Path), nil)
		}
	}
	if r.WorkspaceID <= 0 {
		return apperr.Config("workspace ID is required", nil)
	}
	if r.StorageDir == "" {
		return apperr.Config("storage dir is required", nil)
	}
	switch r.Store.Kind {
	case StoreS3:
		if r.Store.Bucket == "" && r.Input.Kind != normalize.KindURL {
			return apperr.Config("store bucket is required for the s3 store", nil)
		}
	case StoreLocal:
		if r.Store.LocalRoot == "" && r.Input.Kind != normalize.KindURL {
			return apperr.Config("store local root is required for the local store", nil)
		}
	default:
		return apperr.Config(fmt.Sprintf("unknown store kind %q", r.Store.Kind), nil)
	}
	if r.Platform.URL == "" {
		return apperr.Config("platform URL is required", nil)
	}
	if r.Platform.Token == "" && r.Platform.TokenSSMParam == "" {
		return apperr.Config("platform token or token SSM parameter is required", nil)
	}
	return nil
}

// SingleProject reports whether the import targets one named project.
func (r *Request) SingleProject() bool {
	return r.ProjectName != ""
}
