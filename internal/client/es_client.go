package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

type ESClient struct {
	Client *elasticsearch.Client
	logger *zap.Logger
}

// SearchResult is the subset of a search response the service reads.
type SearchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // self-signed dev clusters
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{Client: client, logger: logger}
	if err := esClient.HealthCheck(context.Background()); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized", zap.String("url", esConfig.URL))
	return esClient, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// EnsureIndex creates index with mapping unless it already exists.
func (e *ESClient) EnsureIndex(ctx context.Context, index, mapping string) error {
	res, err := e.Client.Indices.Exists([]string{index}, e.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error checking index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.Client.Indices.Create(index,
		e.Client.Indices.Create.WithContext(ctx),
		e.Client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("elasticsearch error creating %s: %s", index, res.String())
	}
	e.logger.Info("Elasticsearch index created", zap.String("index", index))
	return nil
}

func (e *ESClient) Search(ctx context.Context, index string, query map[string]interface{}) (*SearchResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(index),
		e.Client.Search.WithBody(&buf),
		e.Client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}

	var result SearchResult
	if err := e.ParseResponse(res, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *ESClient) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(document); err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	res, err := e.Client.Index(index, &buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("error indexing document: %w", err)
	}
	return e.ParseResponse(res, nil)
}

// ParseResponse closes the body and decodes it into target when target is
// not nil. Error responses become errors carrying the reason.
func (e *ESClient) ParseResponse(res *esapi.Response, target interface{}) error {
	defer res.Body.Close()

	if res.IsError() {
		var body struct {
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return fmt.Errorf("elasticsearch error: [%s]", res.Status())
		}
		return fmt.Errorf("elasticsearch error: [%s] %s: %s", res.Status(), body.Error.Type, body.Error.Reason)
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
