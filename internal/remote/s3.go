package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fpang/image-project-importer/internal/archive"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store serves team files from an S3 bucket. Remote path "/a/b" maps to key
// "<prefix>/a/b".
type S3Store struct {
	client S3API
	bucket string
	prefix string
	local  afero.Fs
}

// NewS3Store creates a store over bucket. Downloaded files are written to local.
func NewS3Store(client S3API, bucket, prefix string, local afero.Fs) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		local:  local,
	}
}

func (s *S3Store) key(p string) string {
	rel := strings.TrimPrefix(Clean(p), "/")
	if s.prefix == "" {
		return rel
	}
	if rel == "" {
		return s.prefix
	}
	return s.prefix + "/" + rel
}

func (s *S3Store) dirKey(p string) string {
	k := s.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

// remotePath maps an object key back to a remote path.
func (s *S3Store) remotePath(key string) string {
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	return Clean(key)
}

// List returns the direct children of dir using a delimited listing.
func (s *S3Store) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := s.dirKey(dir)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []Entry
	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		found = found || len(page.CommonPrefixes) > 0 || len(page.Contents) > 0
		for _, cp := range page.CommonPrefixes {
			p := s.remotePath(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			entries = append(entries, Entry{Path: p, Name: path.Base(p), IsDir: true})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			p := s.remotePath(key)
			entries = append(entries, Entry{Path: p, Name: path.Base(p), Size: aws.ToInt64(obj.Size)})
		}
	}
	// S3 has no directories; a prefix without objects does not exist.
	if !found && prefix != "" {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	log.Debug().Str("bucket", s.bucket).Str("prefix", prefix).Int("entries", len(entries)).Msg("Listed remote directory")
	return entries, nil
}

// walk calls fn for every object under dir.
func (s *S3Store) walk(ctx context.Context, dir string, fn func(key string, size int64) error) error {
	prefix := s.dirKey(dir)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if err := fn(key, aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DirSize sums the sizes of all objects under dir.
func (s *S3Store) DirSize(ctx context.Context, dir string) (int64, error) {
	var total int64
	err := s.walk(ctx, dir, func(_ string, size int64) error {
		total += size
		return nil
	})
	return total, err
}

// FileSize returns the object's content length.
func (s *S3Store) FileSize(ctx context.Context, p string) (int64, error) {
	key := s.key(p)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("S3 HeadObject %s: %w", key, err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

// FetchDirectory downloads every object under remoteDir into localDir,
// keeping the relative layout.
func (s *S3Store) FetchDirectory(ctx context.Context, remoteDir, localDir string, progress ProgressFunc) error {
	prefix := s.dirKey(remoteDir)
	files := 0
	err := s.walk(ctx, remoteDir, func(key string, _ int64) error {
		dest, err := archive.SafeJoin(localDir, strings.TrimPrefix(key, prefix))
		if err != nil {
			return fmt.Errorf("S3 object %s: %w", key, err)
		}
		files++
		return s.download(ctx, key, dest, progress)
	})
	if err != nil {
		return err
	}
	log.Info().Str("bucket", s.bucket).Str("prefix", prefix).Int("files", files).Str("localDir", localDir).Msg("Remote directory downloaded")
	return nil
}

// FetchFile downloads one object to localPath.
func (s *S3Store) FetchFile(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	return s.download(ctx, s.key(remotePath), localPath, progress)
}

func (s *S3Store) download(ctx context.Context, key, localPath string, progress ProgressFunc) (err error) {
	log.Debug().Str("bucket", s.bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	if err := s.local.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := s.local.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close %s: %w", localPath, closeErr)
		}
	}()

	if _, err := io.Copy(&progressWriter{w: f, progress: progress}, result.Body); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}
