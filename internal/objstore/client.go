/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package objstore adapts the AWS S3 SDK to the ingest.ObjectStore
// capability interface: paginated key listing under a prefix and whole-
// object retrieval.
package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// api is the subset of the S3 client this package calls, narrowed so
// tests can substitute a fake without depending on the full SDK client.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client is an ObjectStore backed by a single S3 bucket.
type Client struct {
	api    api
	bucket string
}

// New wraps an s3.Client for the given bucket.
func New(c *s3.Client, bucket string) *Client {
	return &Client{api: c, bucket: bucket}
}

// List returns up to one page of keys under prefix, using ListObjectsV2's
// continuation-token pagination.
func (c *Client) List(ctx context.Context, prefix, continuation string) ([]string, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if continuation != "" {
		input.ContinuationToken = aws.String(continuation)
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("objstore: list %s/%s: %w", c.bucket, prefix, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}

	next := ""
	if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
		next = *out.NextContinuationToken
	}
	return keys, next, nil
}

// Get retrieves the full object body for key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objstore: read body %s/%s: %w", c.bucket, key, err)
	}
	return body, nil
}
