// Package s3 stores the remote tree in an S3 compatible bucket. Directories
// are implicit key prefixes, plus empty "dir/" marker objects from Mkdir.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"vaultsync/internal/cloud"
	"vaultsync/internal/logger"
	"vaultsync/internal/model"
	"vaultsync/internal/pathutil"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const mtimeKey = "mtime"

type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type Backend struct {
	client *s3.Client
	bucket string
	opts   cloud.Options
}

func New(ctx context.Context, cfg Config, opts cloud.Options) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
			o.UsePathStyle = true
		}
	})

	return &Backend{client: client, bucket: cfg.Bucket, opts: opts}, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (b *Backend) Kind() cloud.Kind {
	return cloud.KindS3
}

func isNotFound(err error) bool {
	if _, ok := errors.AsType[*types.NoSuchKey](err); ok {
		return true
	}
	_, ok := errors.AsType[*types.NotFound](err)
	return ok
}

func (b *Backend) wrap(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, key)
	}
	return err
}

func (b *Backend) DownloadFile(ctx context.Context, p string, hint *model.RemoteFileNode) ([]byte, error) {
	key := pathutil.Join(p)
	size := int64(0)
	if hint != nil {
		size = hint.Size
	}

	return cloud.ChunkedDownload(ctx, b.opts.Queue, key, size, b.opts.Chunk(), func(ctx context.Context, off, length int64) ([]byte, error) {
		input := &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}
		if length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1))
		} else if off > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", off))
		}

		out, err := b.client.GetObject(ctx, input)
		if err != nil {
			return nil, b.wrap(key, fmt.Errorf("failed to get object %s: %w", key, err))
		}

		defer func(body io.ReadCloser) {
			_ = body.Close()
		}(out.Body)

		return io.ReadAll(out.Body)
	})
}

func (b *Backend) DownloadFileAsString(ctx context.Context, p string) (string, error) {
	data, err := b.DownloadFile(ctx, p, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) UploadFile(ctx context.Context, localPath, remotePath string) error {
	data, info, err := b.opts.ReadLocal(localPath)
	if err != nil {
		return err
	}
	return b.UploadContent(ctx, data, remotePath, cloud.UploadOptions{MTime: info.ModTime()})
}

func (b *Backend) UploadContent(ctx context.Context, content []byte, remotePath string, opts cloud.UploadOptions) error {
	key := pathutil.Join(remotePath)
	mtime := opts.MTime
	if mtime.IsZero() {
		mtime = time.Now()
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		Metadata:      map[string]string{mtimeKey: strconv.FormatInt(mtime.UnixMilli(), 10)},
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}

	logger.Log.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(content)))

	if opts.OnComplete != nil {
		ctime := opts.CTime
		if ctime.IsZero() {
			ctime = mtime
		}
		return opts.OnComplete(ctime, mtime)
	}
	return nil
}

func (b *Backend) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

// keysUnder returns key itself when it is an object, else every key below
// the key's prefix.
func (b *Backend) keysUnder(ctx context.Context, key string) ([]string, error) {
	ok, err := b.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return []string{key}, nil
	}

	var keys []string
	err = b.eachObject(ctx, key+"/", func(obj types.Object) {
		keys = append(keys, aws.ToString(obj.Key))
	})
	return keys, err
}

func (b *Backend) eachObject(ctx context.Context, prefix string, fn func(types.Object)) error {
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			fn(obj)
		}
	}
	return nil
}

func (b *Backend) copyKey(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(b.bucket + "/" + src),
	})
	if err != nil {
		return b.wrap(src, fmt.Errorf("copy %s -> %s: %w", src, dst, err))
	}
	return nil
}

func (b *Backend) deleteKey(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// relocate copies every object at or below from to the same place below to,
// deleting the source when move is set.
func (b *Backend) relocate(ctx context.Context, from, to string, move bool) error {
	from, to = pathutil.Join(from), pathutil.Join(to)
	keys, err := b.keysUnder(ctx, from)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, from)
	}

	for _, k := range keys {
		dst := to + strings.TrimPrefix(k, from)
		if err := b.copyKey(ctx, k, dst); err != nil {
			return err
		}
		if move {
			if err := b.deleteKey(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) RenameFile(ctx context.Context, from, newName string) error {
	return b.relocate(ctx, from, pathutil.Join(pathutil.Dirname(pathutil.Join(from)), newName), true)
}

func (b *Backend) MoveFile(ctx context.Context, from, to string) error {
	return b.relocate(ctx, from, to, true)
}

func (b *Backend) CopyFile(ctx context.Context, from, to string) error {
	return b.relocate(ctx, from, to, false)
}

func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	key := pathutil.Join(p)
	keys, err := b.keysUnder(ctx, key)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, key)
	}
	for _, k := range keys {
		if err := b.deleteKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Mkdir(ctx context.Context, p string) error {
	key := pathutil.Join(p) + "/"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	return nil
}

func (b *Backend) UserInfo(context.Context) (*model.UserInfo, error) {
	return &model.UserInfo{ID: b.bucket, Name: b.bucket}, nil
}

func (b *Backend) StorageInfo(ctx context.Context) (*model.StorageInfo, error) {
	var used int64
	if err := b.eachObject(ctx, "", func(obj types.Object) {
		used += aws.ToInt64(obj.Size)
	}); err != nil {
		return nil, err
	}
	return &model.StorageInfo{Used: used}, nil
}

// etagMD5 returns the md5 carried by a single part upload's ETag.
func etagMD5(etag string) string {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return ""
	}
	return etag
}

func objectEntry(obj types.Object) model.FileEntry {
	key := aws.ToString(obj.Key)
	isDir := strings.HasSuffix(key, "/")
	mtime := aws.ToTime(obj.LastModified).Unix()
	e := model.FileEntry{
		Path:  pathutil.Join(key),
		IsDir: isDir,
		FsID:  key,
		CTime: mtime,
		MTime: mtime,
	}
	if !isDir {
		e.Size = aws.ToInt64(obj.Size)
		e.MD5 = etagMD5(aws.ToString(obj.ETag))
	}
	return e
}

// ListFiles lists one level below parentID. The marker is the S3
// continuation token.
func (b *Backend) ListFiles(ctx context.Context, parentID string, limit int, marker string) ([]model.FileEntry, string, error) {
	prefix := pathutil.Join(parentID)
	if prefix != "" {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}
	if marker != "" {
		input.ContinuationToken = aws.String(marker)
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	var entries []model.FileEntry
	for _, cp := range out.CommonPrefixes {
		p := aws.ToString(cp.Prefix)
		entries = append(entries, model.FileEntry{Path: pathutil.Join(p), IsDir: true, FsID: p})
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) == prefix {
			continue
		}
		entries = append(entries, objectEntry(obj))
	}

	next := ""
	if aws.ToBool(out.IsTruncated) {
		next = aws.ToString(out.NextContinuationToken)
	}
	return entries, next, nil
}

func (b *Backend) ListAllFiles(ctx context.Context, folderPath, _ string) ([]model.FileEntry, error) {
	prefix := pathutil.Join(folderPath)
	if prefix != "" {
		prefix += "/"
	}

	var entries []model.FileEntry
	err := b.eachObject(ctx, prefix, func(obj types.Object) {
		if aws.ToString(obj.Key) != prefix {
			entries = append(entries, objectEntry(obj))
		}
	})
	return entries, err
}
