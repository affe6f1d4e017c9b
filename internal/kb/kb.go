// Package kb retrieves passages from a Bedrock knowledge base. Ranking
// and chunking are the knowledge base's problem; this is a thin query
// boundary.
package kb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
)

// Result is one retrieved passage.
type Result struct {
	Content string
	Source  string
}

// Searcher is what tool execution depends on.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// RetrieveAPI is the slice of the Bedrock agent runtime client used here.
type RetrieveAPI interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// BedrockKB queries one knowledge base.
type BedrockKB struct {
	client RetrieveAPI
	kbID   string
}

var _ Searcher = (*BedrockKB)(nil)

// NewBedrockKB wraps an existing client.
func NewBedrockKB(client RetrieveAPI, kbID string) *BedrockKB {
	return &BedrockKB{client: client, kbID: kbID}
}

func (k *BedrockKB) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	out, err := k.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.kbID),
		RetrievalQuery: &types.KnowledgeBaseQuery{
			Text: aws.String(query),
		},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(maxResults)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base retrieve: %w", err)
	}

	results := make([]Result, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		res := Result{}
		if r.Content != nil {
			res.Content = aws.ToString(r.Content.Text)
		}
		if r.Location != nil && r.Location.S3Location != nil {
			res.Source = aws.ToString(r.Location.S3Location.Uri)
		}
		if res.Content != "" {
			results = append(results, res)
		}
	}
	return results, nil
}
