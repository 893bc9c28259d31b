package repo

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// GCSRepository fetches module archives from a Google Cloud Storage
// bucket, the cloud-native sibling of S3Repository.
type GCSRepository struct {
	Bucket string
	Prefix string
	Client *storage.Client
}

func NewGCSRepository(bucket, prefix string, client *storage.Client) *GCSRepository {
	return &GCSRepository{Bucket: bucket, Prefix: prefix, Client: client}
}

func (g *GCSRepository) Name() string { return "gs://" + g.Bucket + "/" + g.Prefix }

func (g *GCSRepository) objectName(name string) string {
	if g.Prefix == "" {
		return name + ".tar.lz4"
	}
	return fmt.Sprintf("%s/%s.tar.lz4", g.Prefix, name)
}

func (g *GCSRepository) Install(ctx context.Context, name, modRoot string) error {
	objName := g.objectName(name)
	obj := g.Client.Bucket(g.Bucket).Object(objName)

	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return xerrors.New(xerrors.KindResolution, "module not found: "+name)
		}
		return xerrors.Wrap(xerrors.KindTransient, err, "fetching gs://"+g.Bucket+"/"+objName)
	}
	defer r.Close()

	got, err := extractArchive(r, modRoot, name)
	if err != nil {
		return err
	}
	attrs, aerr := obj.Attrs(ctx)
	var checksum string
	if aerr == nil && attrs.Metadata != nil {
		checksum = attrs.Metadata["module-checksum"]
	}
	return verifyChecksum(checksum, got)
}
