package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/greanly/internal/config"
	"github.com/wolfman30/greanly/internal/retrieval"
)

type recordingIngester struct {
	namespaces []string
	docs       [][]string
	err        error
}

func (r *recordingIngester) Ingest(ctx context.Context, namespace string, docs []string) error {
	if r.err != nil {
		return r.err
	}
	r.namespaces = append(r.namespaces, namespace)
	r.docs = append(r.docs, docs)
	return nil
}

type fakeIndex []retrieval.Candidate

func (f fakeIndex) Search(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error) {
	if len(f) > topK {
		return f[:topK], nil
	}
	return f, nil
}

type fakeS3 struct {
	objects map[string]string
	lastKey string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := *params.Bucket + "/" + *params.Key
	f.lastKey = key
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

const manifestYAML = `
namespace: restaurants
documents:
  - Track food waste for two weeks before changing prep sizes.
  - "   "
  - Bagasse trays compost in industrial facilities.
`

func execute(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	if e.cleanup == nil {
		e.cleanup = func() {}
	}
	cmd := newRootCmd(func(context.Context) (*env, error) { return e, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseS3URI(t *testing.T) {
	bucket, key, ok := parseS3URI("s3://greanly-kb/restaurants/waste.yaml")
	require.True(t, ok)
	assert.Equal(t, "greanly-kb", bucket)
	assert.Equal(t, "restaurants/waste.yaml", key)

	for _, uri := range []string{"s3://bucket", "s3:///key", "./local.yaml", "https://example.com/a"} {
		_, _, ok := parseS3URI(uri)
		assert.False(t, ok, uri)
	}
}

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	assert.Equal(t, "restaurants", m.Namespace)
	assert.Len(t, m.Documents, 2)

	_, err = parseManifest([]byte("namespace: empty\n"))
	assert.ErrorIs(t, err, errNoDocuments)

	_, err = parseManifest([]byte("documents: [unterminated"))
	assert.ErrorContains(t, err, "parse manifest")
}

func TestIngestLocalManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))

	ingester := &recordingIngester{}
	out, err := execute(t, &env{ingester: ingester, cfg: &appconfig.Config{KnowledgeNamespace: "default"}}, "ingest", path)
	require.NoError(t, err)

	assert.Equal(t, []string{"restaurants"}, ingester.namespaces)
	assert.Len(t, ingester.docs[0], 2)
	assert.Contains(t, out, "ingested 2 passage(s)")
}

func TestIngestNamespaceFlagWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))

	ingester := &recordingIngester{}
	_, err := execute(t, &env{ingester: ingester, cfg: &appconfig.Config{KnowledgeNamespace: "default"}}, "ingest", "-n", "retail", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"retail"}, ingester.namespaces)
}

func TestIngestFromS3(t *testing.T) {
	store := &fakeS3{objects: map[string]string{"greanly-kb/kb.yaml": "documents:\n  - LED bulbs last longer.\n"}}
	ingester := &recordingIngester{}
	e := &env{ingester: ingester, s3: store, cfg: &appconfig.Config{KnowledgeNamespace: "default", KnowledgeS3Bucket: "greanly-kb"}}

	_, err := execute(t, e, "ingest", "s3://greanly-kb/kb.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, ingester.namespaces)

	_, err = execute(t, e, "ingest", "--bucket-keys", "/kb.yaml")
	require.NoError(t, err)
	assert.Equal(t, "greanly-kb/kb.yaml", store.lastKey)

	_, err = execute(t, e, "ingest", "s3://greanly-kb/missing.yaml")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestIngestRequiresWritableBackend(t *testing.T) {
	_, err := execute(t, &env{cfg: &appconfig.Config{RetrievalBackend: "none"}}, "ingest", "kb.yaml")
	assert.ErrorContains(t, err, "does not accept ingestion")
}

func TestIngestPropagatesIngestError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))

	ingester := &recordingIngester{err: errors.New("embedding quota exceeded")}
	_, err := execute(t, &env{ingester: ingester, cfg: &appconfig.Config{}}, "ingest", path)
	assert.ErrorContains(t, err, "embedding quota exceeded")
}

func TestQueryPrintsBranchPerCandidate(t *testing.T) {
	index := fakeIndex{
		{Content: "Kraft bags recycle well.", Score: 0.82},
		{Content: "Unrelated passage.", Score: 0.41},
	}
	out, err := execute(t, &env{index: index, cfg: &appconfig.Config{AdmissionThreshold: 0.70}}, "query", "bakery", "bags")
	require.NoError(t, err)
	assert.Contains(t, out, "1. [0.820 grounded] Kraft bags recycle well.")
	assert.Contains(t, out, "2. [0.410 general] Unrelated passage.")
}

func TestQueryNoMatches(t *testing.T) {
	out, err := execute(t, &env{index: fakeIndex{}, cfg: &appconfig.Config{}}, "query", "anything")
	require.NoError(t, err)
	assert.Equal(t, "no matches\n", out)
}
