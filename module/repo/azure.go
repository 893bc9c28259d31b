package repo

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// AzureRepository fetches module archives from Azure Blob Storage, the way
// ais/backend/azure.go addresses objects against a single container.
type AzureRepository struct {
	Container string
	Prefix    string
	Client    *azblob.Client
}

func NewAzureRepository(container, prefix string, client *azblob.Client) *AzureRepository {
	return &AzureRepository{Container: container, Prefix: prefix, Client: client}
}

func (a *AzureRepository) Name() string { return "azblob://" + a.Container + "/" + a.Prefix }

func (a *AzureRepository) blobName(name string) string {
	if a.Prefix == "" {
		return name + ".tar.lz4"
	}
	return fmt.Sprintf("%s/%s.tar.lz4", a.Prefix, name)
}

func (a *AzureRepository) Install(ctx context.Context, name, modRoot string) error {
	blobName := a.blobName(name)
	resp, err := a.Client.DownloadStream(ctx, a.Container, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return xerrors.New(xerrors.KindResolution, "module not found: "+name)
		}
		return xerrors.Wrap(xerrors.KindTransient, err, "fetching azblob://"+a.Container+"/"+blobName)
	}
	body := resp.Body
	defer body.Close()

	got, err := extractArchive(body, modRoot, name)
	if err != nil {
		return err
	}
	var checksum string
	if resp.Metadata != nil {
		if v, ok := resp.Metadata["module_checksum"]; ok && v != nil {
			checksum = *v
		}
	}
	return verifyChecksum(checksum, got)
}
