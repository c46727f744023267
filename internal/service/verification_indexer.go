package service

import (
	"context"
	"encoding/json"
	"fmt"

	"kyc-service/internal/client"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

const verificationMapping = `{
  "mappings": {
    "properties": {
      "user_id":         {"type": "keyword"},
      "verification_id": {"type": "keyword"},
      "submitted_at":    {"type": "date"},
      "document_type":   {"type": "keyword"},
      "full_name":       {"type": "text"},
      "country":         {"type": "keyword"},
      "status":          {"type": "keyword"}
    }
  }
}`

type SearchBackend interface {
	EnsureIndex(ctx context.Context, index, mapping string) error
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}) (*client.SearchResult, error)
}

// VerificationIndexer keeps the review-queue index in Elasticsearch. The
// encrypted document number never leaves Scylla: the record's JSON form
// omits it.
type VerificationIndexer struct {
	es    SearchBackend
	index string
}

func NewVerificationIndexer(es SearchBackend, index string) *VerificationIndexer {
	return &VerificationIndexer{es: es, index: index}
}

func (ix *VerificationIndexer) EnsureIndex(ctx context.Context) error {
	return ix.es.EnsureIndex(ctx, ix.index, verificationMapping)
}

func (ix *VerificationIndexer) IndexVerification(ctx context.Context, v *models.KYCVerification) error {
	return ix.es.IndexDocument(ctx, ix.index, v.VerificationID, v)
}

// SearchVerifications returns the oldest submissions first so reviewers work
// the queue in order. An empty status matches every record.
func (ix *VerificationIndexer) SearchVerifications(ctx context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error) {
	query := map[string]interface{}{
		"size": limit,
		"sort": []interface{}{map[string]interface{}{"submitted_at": "asc"}},
	}
	if status != "" {
		query["query"] = map[string]interface{}{
			"term": map[string]interface{}{"status": string(status)},
		}
	} else {
		query["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	res, err := ix.es.Search(ctx, ix.index, query)
	if err != nil {
		return nil, err
	}

	out := make([]*models.KYCVerification, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var v models.KYCVerification
		if err := json.Unmarshal(hit.Source, &v); err != nil {
			return nil, fmt.Errorf("decode hit %s: %w", hit.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
