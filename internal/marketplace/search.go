package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

// SearchIndex finds listings by free text
type SearchIndex interface {
	IndexListing(ctx context.Context, l Listing) error
	Search(ctx context.Context, term string, limit int) ([]uuid.UUID, error)
}

type elasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex creates a search index backed by Elasticsearch
func NewElasticIndex(addresses []string, username, password, index string) (SearchIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &elasticIndex{client: client, index: index}, nil
}

type searchDocument struct {
	Name             string   `json:"name"`
	CropTypes        []string `json:"crop_types"`
	FarmingPractices []string `json:"farming_practices"`
	CarbonCredits    float64  `json:"carbon_credits"`
	ConfidenceScore  float64  `json:"confidence_score"`
}

func (e *elasticIndex) IndexListing(ctx context.Context, l Listing) error {
	body, err := json.Marshal(searchDocument{
		Name:             l.Name,
		CropTypes:        l.CropTypes,
		FarmingPractices: l.FarmingPractices,
		CarbonCredits:    l.CarbonCredits,
		ConfidenceScore:  l.ConfidenceScore,
	})
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}

	res, err := e.client.Index(e.index, bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(l.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to index listing: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index listing: %s", res.String())
	}
	return nil
}

func (e *elasticIndex) Search(ctx context.Context, term string, limit int) ([]uuid.UUID, error) {
	query, err := json.Marshal(searchQuery(term))
	if err != nil {
		return nil, err
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(query)),
		e.client.Search.WithSize(limit),
		e.client.Search.WithSource("false"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to search listings: %s", res.String())
	}
	return parseSearchHits(res.Body)
}

// searchQuery matches a case-insensitive substring of name, crops or practices
func searchQuery(term string) map[string]interface{} {
	pattern := "*" + term + "*"
	fields := []string{"name", "crop_types", "farming_practices"}
	should := make([]map[string]interface{}, 0, len(fields))
	for _, f := range fields {
		should = append(should, map[string]interface{}{
			"wildcard": map[string]interface{}{
				f + ".keyword": map[string]interface{}{
					"value":            pattern,
					"case_insensitive": true,
				},
			},
		})
	}
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}
}

func parseSearchHits(body io.Reader) ([]uuid.UUID, error) {
	var resp struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
