package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// Manifest is a batch of knowledge passages for one namespace.
//
//	namespace: restaurants
//	documents:
//	  - Track food waste for two weeks before changing prep sizes.
//	  - Bagasse trays compost in industrial facilities.
type Manifest struct {
	Namespace string   `yaml:"namespace"`
	Documents []string `yaml:"documents"`
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var errNoDocuments = errors.New("manifest has no documents")

// parseS3URI splits s3://bucket/key. ok is false for anything else.
func parseS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// readSource reads a local path, or an s3:// URI through getter.
func readSource(ctx context.Context, src string, getter objectGetter) ([]byte, error) {
	bucket, key, isS3 := parseS3URI(src)
	if !isS3 {
		if strings.HasPrefix(src, "s3://") {
			return nil, fmt.Errorf("malformed s3 uri %q", src)
		}
		return os.ReadFile(src)
	}
	if getter == nil {
		return nil, fmt.Errorf("s3 source %q needs AWS configuration", src)
	}
	out, err := getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// parseManifest decodes YAML and drops blank passages.
func parseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Namespace = strings.TrimSpace(m.Namespace)
	docs := m.Documents[:0]
	for _, d := range m.Documents {
		if d = strings.TrimSpace(d); d != "" {
			docs = append(docs, d)
		}
	}
	m.Documents = docs
	if len(m.Documents) == 0 {
		return nil, errNoDocuments
	}
	return &m, nil
}

func loadManifest(ctx context.Context, src string, getter objectGetter) (*Manifest, error) {
	raw, err := readSource(ctx, src, getter)
	if err != nil {
		return nil, err
	}
	return parseManifest(raw)
}
