package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbeddingAPI struct {
	resp openai.EmbeddingResponse
	err  error
	req  openai.EmbeddingRequest
}

func (s *stubEmbeddingAPI) CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	s.req = request.Convert()
	return s.resp, s.err
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	api := &stubEmbeddingAPI{resp: openai.EmbeddingResponse{Data: []openai.Embedding{
		{Index: 1, Embedding: []float32{0, 1}},
		{Index: 0, Embedding: []float32{1, 0}},
	}}}
	e := NewOpenAIEmbedder(api, "")

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, openai.EmbeddingModel("text-embedding-3-small"), api.req.Model)
}

func TestOpenAIEmbedderSizeMismatch(t *testing.T) {
	api := &stubEmbeddingAPI{resp: openai.EmbeddingResponse{Data: []openai.Embedding{{Index: 0}}}}
	_, err := NewOpenAIEmbedder(api, "m").Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

type stubInvokeAPI struct {
	err error
}

func (s *stubInvokeAPI) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	var body struct {
		InputText string `json:"inputText"`
	}
	if err := json.Unmarshal(params.Body, &body); err != nil {
		return nil, err
	}
	out, _ := json.Marshal(map[string]any{"embedding": []float64{float64(len(body.InputText)), 1}})
	return &bedrockruntime.InvokeModelOutput{Body: out, ContentType: aws.String("application/json")}, nil
}

func TestBedrockEmbedderPreservesOrder(t *testing.T) {
	e := NewBedrockEmbedder(&stubInvokeAPI{}, "amazon.titan-embed-text-v2:0")

	vecs, err := e.Embed(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
}

func TestBedrockEmbedderErrors(t *testing.T) {
	_, err := NewBedrockEmbedder(&stubInvokeAPI{}, "").Embed(context.Background(), []string{"a"})
	assert.Error(t, err)

	_, err = NewBedrockEmbedder(&stubInvokeAPI{err: errors.New("denied")}, "m").Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "denied")
}
