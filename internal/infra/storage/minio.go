package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Vault archives APK samples that were flagged as critical, so analysts can
// pull them after the per-request temp file is gone.
type Vault struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewVault buat koneksi MinIO
func NewVault(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Vault, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Vault{client: cli, bucketName: bucket, region: region}, nil
}

// Archive implementasi SampleVault. The local file is left in place; the
// scan pipeline's cleanup handle owns deletion.
func (v *Vault) Archive(ctx context.Context, localPath, key string) (string, error) {
	_, err := v.client.FPutObject(ctx, v.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: "application/vnd.android.package-archive",
	})
	if err != nil {
		return "", err
	}

	// URL publik (jika bucket public), kalau private harus generate presigned URL
	url := fmt.Sprintf("http://%s/%s/%s", v.client.EndpointURL().Host, v.bucketName, key)
	return url, nil
}
