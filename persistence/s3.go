/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config names an S3-compatible bucket (AWS or MinIO-style) to archive
// dump generations to (SPEC_FULL.md DOMAIN STACK entry for
// aws-sdk-go-v2), grounded on storage/persistence-s3.go's S3Factory.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Sink uploads lz4-compressed dump generations to an S3-compatible
// bucket. S3 has no append operation, so every upload replaces the whole
// object (storage/persistence-s3.go: "S3 does not support append; we
// buffer and replace") — a natural fit here since dumps are already
// complete, immutable files once written.
type S3Sink struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

// NewS3Sink builds a sink; the client connects lazily on first use.
func NewS3Sink(cfg S3Config) *S3Sink {
	return &S3Sink{cfg: cfg}
}

func (s *S3Sink) ensureClient(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("persistence: load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
		o.UsePathStyle = s.cfg.ForcePathStyle
	})
	return s.client, nil
}

func (s *S3Sink) key(table string, generation int) string {
	prefix := strings.TrimSuffix(s.cfg.Prefix, "/")
	if prefix != "" {
		return fmt.Sprintf("%s/%s/%s%d.dump.lz4", prefix, table, table, generation)
	}
	return fmt.Sprintf("%s/%s%d.dump.lz4", table, table, generation)
}

func (s *S3Sink) Upload(table string, generation int, localPath string) error {
	ctx := context.Background()
	client, err := s.ensureClient(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("persistence: s3 upload open: %w", err)
	}
	defer f.Close()

	var compressed bytes.Buffer
	if err := CompressLZ4(&compressed, f); err != nil {
		return fmt.Errorf("persistence: s3 upload compress: %w", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(table, generation)),
		Body:   bytes.NewReader(compressed.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("persistence: s3 put object: %w", err)
	}
	return nil
}

func (s *S3Sink) Download(table string, generation int) (io.ReadCloser, bool, error) {
	ctx := context.Background()
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, false, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(table, generation)),
	})
	if err != nil {
		return nil, false, nil
	}
	defer out.Body.Close()

	var raw bytes.Buffer
	if err := DecompressLZ4(&raw, out.Body); err != nil {
		return nil, false, fmt.Errorf("persistence: s3 download decompress: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw.Bytes())), true, nil
}
