package repo

import (
	"context"
	"fmt"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// OCIRepository fetches module archives from an Oracle Cloud Infrastructure
// Object Storage bucket, the OCI-native sibling of S3Repository and
// GCSRepository — same <prefix>/<name>.tar.lz4 object naming, addressed
// additionally by the namespace OCI tenancies store their buckets under.
type OCIRepository struct {
	Namespace string
	Bucket    string
	Prefix    string
	Client    objectstorage.ObjectStorageClient
}

func NewOCIRepository(namespace, bucket, prefix string, client objectstorage.ObjectStorageClient) *OCIRepository {
	return &OCIRepository{Namespace: namespace, Bucket: bucket, Prefix: prefix, Client: client}
}

func (o *OCIRepository) Name() string {
	return "oci://" + o.Namespace + "/" + o.Bucket + "/" + o.Prefix
}

func (o *OCIRepository) objectName(name string) string {
	if o.Prefix == "" {
		return name + ".tar.lz4"
	}
	return fmt.Sprintf("%s/%s.tar.lz4", o.Prefix, name)
}

func (o *OCIRepository) Install(ctx context.Context, name, modRoot string) error {
	objName := o.objectName(name)
	resp, err := o.Client.GetObject(ctx, objectstorage.GetObjectRequest{
		NamespaceName: common.String(o.Namespace),
		BucketName:    common.String(o.Bucket),
		ObjectName:    common.String(objName),
	})
	if err != nil {
		if isOCINotFound(err) {
			return xerrors.New(xerrors.KindResolution, "module not found: "+name)
		}
		return xerrors.Wrap(xerrors.KindTransient, err, "fetching oci://"+o.Bucket+"/"+objName)
	}
	defer resp.Content.Close()

	got, err := extractArchive(resp.Content, modRoot, name)
	if err != nil {
		return err
	}
	var checksum string
	if resp.OpcMeta != nil {
		checksum = resp.OpcMeta["module-checksum"]
	}
	return verifyChecksum(checksum, got)
}

func isOCINotFound(err error) bool {
	if svcErr, ok := common.IsServiceError(err); ok {
		return svcErr.GetHTTPStatusCode() == 404
	}
	return false
}
