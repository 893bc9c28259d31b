package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloud.google.com/go/storage"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"

	"github.com/coredeploy/vertexd/module"
	"github.com/coredeploy/vertexd/module/repo"
)

// buildRepository turns a -repo URL into a concrete module.Repository,
// dispatching on scheme the way aistore's own backend providers key off a
// bucket-provider prefix. An empty url yields (nil, nil): the resolver is
// then limited to modules already present on disk.
func buildRepository(ctx context.Context, rawURL string) (module.Repository, error) {
	if rawURL == "" {
		return nil, nil
	}
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("-repo: %q is not a scheme://... URL", rawURL)
	}

	switch scheme {
	case "http", "https":
		return repo.NewHTTPRepository(scheme + "://" + rest), nil
	case "fasthttp":
		return repo.NewFastHTTPRepository(rest), nil
	case "s3":
		bucket, prefix := splitBucketPrefix(rest)
		opts := []func(*config.LoadOptions) error{}
		if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
			// Static creds are opted into explicitly; otherwise the default
			// chain (env/shared-config/IMDS) resolves them.
			opts = append(opts, config.WithCredentialsProvider(
				awscreds.NewStaticCredentialsProvider(ak, sk, os.Getenv("AWS_SESSION_TOKEN"))))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return repo.NewS3Repository(bucket, prefix, s3.NewFromConfig(cfg)), nil
	case "gs":
		bucket, prefix := splitBucketPrefix(rest)
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("building GCS client: %w", err)
		}
		return repo.NewGCSRepository(bucket, prefix, client), nil
	case "azblob":
		container, prefix := splitBucketPrefix(rest)
		// Module fetches hit whatever registry blob store is configured;
		// retry transient network errors a few times before the resolver
		// gives up on this repository and moves to the next one.
		clientOpts := &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries: 3,
					RetryDelay: 200 * time.Millisecond,
				},
			},
		}
		client, err := azblob.NewClientFromConnectionString(azureConnectionString(), clientOpts)
		if err != nil {
			return nil, fmt.Errorf("building Azure Blob client: %w", err)
		}
		return repo.NewAzureRepository(container, prefix, client), nil
	case "oci":
		namespace, rest2, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, fmt.Errorf("-repo: oci:// URL must be oci://<namespace>/<bucket>[/<prefix>]")
		}
		bucket, prefix := splitBucketPrefix(rest2)
		client, err := objectstorage.NewObjectStorageClientWithConfigurationProvider(common.DefaultConfigProvider())
		if err != nil {
			return nil, fmt.Errorf("building OCI Object Storage client: %w", err)
		}
		return repo.NewOCIRepository(namespace, bucket, prefix, client), nil
	default:
		return nil, fmt.Errorf("-repo: unsupported scheme %q", scheme)
	}
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix
}

// azureConnectionString reads the connection string the Azure SDK needs
// from the environment, the same convention az CLI and azblob samples use.
func azureConnectionString() string {
	return os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
}
