package repo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// S3Repository fetches module archives stored as <prefix>/<name>.tar.lz4
// objects in an S3 (or S3-compatible) bucket.
type S3Repository struct {
	Bucket string
	Prefix string
	Client *s3.Client
}

func NewS3Repository(bucket, prefix string, client *s3.Client) *S3Repository {
	return &S3Repository{Bucket: bucket, Prefix: prefix, Client: client}
}

func (s *S3Repository) Name() string { return "s3://" + s.Bucket + "/" + s.Prefix }

func (s *S3Repository) key(name string) string {
	if s.Prefix == "" {
		return name + ".tar.lz4"
	}
	return fmt.Sprintf("%s/%s.tar.lz4", s.Prefix, name)
}

func (s *S3Repository) Install(ctx context.Context, name, modRoot string) error {
	key := s.key(name)
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return xerrors.New(xerrors.KindResolution, "module not found: "+name)
		}
		return xerrors.Wrap(xerrors.KindTransient, err, "fetching s3://"+s.Bucket+"/"+key)
	}
	defer out.Body.Close()

	got, err := extractArchive(out.Body, modRoot, name)
	if err != nil {
		return err
	}
	var checksum string
	if out.Metadata != nil {
		checksum = out.Metadata["module-checksum"]
	}
	return verifyChecksum(checksum, got)
}

func isNoSuchKey(err error) bool {
	for err != nil {
		if ae, ok := err.(smithy.APIError); ok {
			return ae.ErrorCode() == "NoSuchKey" || ae.ErrorCode() == "NotFound"
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
