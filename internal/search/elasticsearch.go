package search

import (
	"bytes"
	"context"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/config"
)

// Client wraps the Elasticsearch client used to mirror read models for
// dashboards. Disabled mode turns indexing into a no-op.
type Client struct {
	es      *elasticsearch.Client
	cfg     config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{enabled: false, cfg: cfg}, nil
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &Client{es: es, cfg: cfg, enabled: true}, nil
}

// IndexDocument indexes one document under the prefixed index name
func (c *Client) IndexDocument(ctx context.Context, index, docID string, doc []byte) error {
	if !c.enabled {
		return nil
	}

	fullIndex := config.FormatIndex(c.cfg, index)
	res, err := c.es.Index(
		fullIndex,
		bytes.NewReader(doc),
		c.es.Index.WithDocumentID(docID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to index document in %s", fullIndex)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("failed to index document in %s: %s", fullIndex, res.String())
	}

	log.Debug().Str("index", fullIndex).Str("doc_id", docID).Msg("Document indexed")
	return nil
}

// Ping checks connectivity for health checks
func (c *Client) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "elasticsearch ping failed")
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("elasticsearch ping failed: %s", res.String())
	}
	return nil
}
