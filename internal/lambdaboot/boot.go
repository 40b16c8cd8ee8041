// Package lambdaboot builds the collaborators of an import run from its
// request: AWS clients, the team file store, the run store, the platform
// token, and startup logging.
//
// Both entry points use it, so the CLI and the Lambda wire a run the same way.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/apperr"
	"github.com/fpang/image-project-importer/internal/config"
	"github.com/fpang/image-project-importer/internal/fetch"
	"github.com/fpang/image-project-importer/internal/logging"
	"github.com/fpang/image-project-importer/internal/normalize"
	"github.com/fpang/image-project-importer/internal/pipeline"
	"github.com/fpang/image-project-importer/internal/platform"
	"github.com/fpang/image-project-importer/internal/progress"
	"github.com/fpang/image-project-importer/internal/remote"
	"github.com/fpang/image-project-importer/internal/store"
)

// Runtime holds the collaborators of one import run.
type Runtime struct {
	Deps pipeline.Deps
	// RunStore is nil when run records are disabled.
	RunStore store.RunStore
}

// Init wires the collaborators for req on the local filesystem. Progress
// goes to sink and, when the request carries a task ID, to the platform task.
func Init(ctx context.Context, req *config.Request, sink progress.Sink) (*Runtime, error) {
	var clients *AWSClients
	if NeedsAWS(req) {
		var err error
		if clients, err = InitAWS(ctx); err != nil {
			return nil, apperr.Config("initialize AWS", err)
		}
	}

	local := afero.NewOsFs()
	var st remote.Store
	// A URL input never reads team storage.
	if req.Input.Kind != normalize.KindURL {
		var err error
		if st, err = InitStore(req.Store, clients, local); err != nil {
			return nil, err
		}
	}

	var ssmClient ParameterGetter
	if clients != nil {
		ssmClient = clients.SSM
	}
	token, err := LoadPlatformToken(ctx, ssmClient, req.Platform)
	if err != nil {
		return nil, err
	}
	client := platform.NewClient(req.Platform.URL, token)

	if req.TaskID != 0 {
		sink = progress.Multi(sink, platform.TaskSink{Client: client, TaskID: req.TaskID})
	}

	return &Runtime{
		Deps: pipeline.Deps{
			Store:    st,
			Fetcher:  fetch.NewDownloader(local),
			Fs:       local,
			Platform: client,
			Sink:     sink,
		},
		RunStore: InitRunStoreOptional(clients, req.RunTable),
	}, nil
}

// AWSClients holds the AWS config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// NeedsAWS reports whether the request touches any AWS service.
func NeedsAWS(req *config.Request) bool {
	return (req.Store.Kind == config.StoreS3 && req.Store.Bucket != "") ||
		req.Platform.Token == "" ||
		req.RunTable != ""
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (*AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return &AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitStore creates the team file store selected by sc. Downloads are
// written to local. clients may be nil for the local store.
func InitStore(sc config.StoreConfig, clients *AWSClients, local afero.Fs) (remote.Store, error) {
	switch sc.Kind {
	case config.StoreLocal:
		return remote.NewLocalStore(afero.NewOsFs(), sc.LocalRoot, local), nil
	case config.StoreS3:
		if clients == nil {
			return nil, apperr.Config("s3 store needs AWS configuration", nil)
		}
		return remote.NewS3Store(s3.NewFromConfig(clients.Config), sc.Bucket, sc.Prefix, local), nil
	default:
		return nil, apperr.Config(fmt.Sprintf("unknown store kind %q", sc.Kind), nil)
	}
}

// InitRunStoreOptional creates a run store if a table is configured.
// Returns nil (with a debug log) otherwise.
func InitRunStoreOptional(clients *AWSClients, table string) store.RunStore {
	if table == "" || clients == nil {
		log.Debug().Msg("Run table not set, run records disabled")
		return nil
	}
	return store.NewDynamoRunStore(dynamodb.NewFromConfig(clients.Config), table)
}

// ParameterGetter is the SSM call used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadPlatformToken returns the platform token from the request, or reads
// it from the SSM parameter the request names.
func LoadPlatformToken(ctx context.Context, ssmClient ParameterGetter, pc config.PlatformConfig) (string, error) {
	if pc.Token != "" {
		return pc.Token, nil
	}
	if ssmClient == nil {
		return "", apperr.Config("platform token needs AWS configuration", nil)
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(pc.TokenSSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", apperr.Config(fmt.Sprintf("read platform token from SSM %s", pc.TokenSSMParam), err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", apperr.Config(fmt.Sprintf("SSM parameter %s is empty", pc.TokenSSMParam), nil)
	}
	log.Debug().Str("param", pc.TokenSSMParam).Dur("elapsed", time.Since(ssmStart)).Msg("Platform token loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}

// StartupLog returns a startup logger describing req.
func StartupLog(name string, req *config.Request, initStart time.Time) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		Source(req.Input.Kind.String(), req.Input.Path).
		Config("workspaceId", fmt.Sprint(req.WorkspaceID)).
		Config("storageDir", req.StorageDir).
		Config("store", req.Store.Kind).
		Feature("recursive", req.Recursive).
		Feature("runStore", req.RunTable != "").
		Feature("singleProject", req.SingleProject()).
		InitDuration(time.Since(initStart))
	if req.TaskID != 0 {
		sl.Config("taskId", fmt.Sprint(req.TaskID))
	}
	if req.Store.Kind == config.StoreS3 && req.Store.Bucket != "" {
		sl.S3Bucket("teamFiles", req.Store.Bucket)
	}
	if req.RunTable != "" {
		sl.DynamoTable("runs", req.RunTable)
	}
	if req.Platform.Token == "" {
		sl.SSMParam("platformToken", req.Platform.TokenSSMParam)
	}
	return sl
}
