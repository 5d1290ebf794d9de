// Package search keeps the journalist search index in step with the store.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/pressroom/internal/httpx"
)

// Config configures the index client.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Limiter    httpx.Waiter
	HTTP       *http.Client
}

// Stats summarizes a collection.
type Stats struct {
	Name         string `json:"name"`
	NumDocuments int64  `json:"num_documents"`
}

// Client talks to a Typesense server.
type Client struct {
	http       *httpx.Client
	collection string
}

// NewClient builds a Client. An empty collection means "journalists".
func NewClient(cfg Config) *Client {
	if cfg.Collection == "" {
		cfg.Collection = "journalists"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http: httpx.New(httpx.Config{
			BaseURL: cfg.URL,
			Timeout: cfg.Timeout,
			Headers: map[string]string{"X-TYPESENSE-API-KEY": cfg.APIKey},
			Limiter: cfg.Limiter,
			HTTP:    cfg.HTTP,
		}),
		collection: cfg.Collection,
	}
}

// Collection returns the collection name.
func (c *Client) Collection() string { return c.collection }

func (c *Client) collectionPath() string {
	return "/collections/" + url.PathEscape(c.collection)
}

func (c *Client) documentPath(id string) string {
	return c.collectionPath() + "/documents/" + url.PathEscape(id)
}

// EnsureCollection creates the collection when it does not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	err := c.http.DoJSON(ctx, "retrieve collection", http.MethodGet, c.collectionPath(), nil, nil)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return err
	}
	err = c.http.DoJSON(ctx, "create collection", http.MethodPost, "/collections", JournalistSchema(c.collection), nil)
	if hasStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// UpdateDocument patches an existing document.
func (c *Client) UpdateDocument(ctx context.Context, doc Document) error {
	return c.http.DoJSON(ctx, "update document", http.MethodPatch, c.documentPath(doc.ID), doc, nil)
}

// CreateDocument inserts a new document.
func (c *Client) CreateDocument(ctx context.Context, doc Document) error {
	return c.http.DoJSON(ctx, "create document", http.MethodPost, c.collectionPath()+"/documents", doc, nil)
}

// Upsert updates the document and creates it when the index has none.
func (c *Client) Upsert(ctx context.Context, doc Document) error {
	err := c.UpdateDocument(ctx, doc)
	if hasStatus(err, http.StatusNotFound) {
		return c.CreateDocument(ctx, doc)
	}
	return err
}

// ForceCreate creates the document and overwrites it on conflict.
func (c *Client) ForceCreate(ctx context.Context, doc Document) error {
	err := c.CreateDocument(ctx, doc)
	if hasStatus(err, http.StatusConflict) {
		return c.UpdateDocument(ctx, doc)
	}
	return err
}

// DeleteDocument removes a document. A missing document is not an error.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	err := c.http.DoJSON(ctx, "delete document", http.MethodDelete, c.documentPath(id), nil, nil)
	if hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// CollectionStats returns the collection's document count.
func (c *Client) CollectionStats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := c.http.DoJSON(ctx, "collection stats", http.MethodGet, c.collectionPath(), nil, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Health reports whether the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.http.DoJSON(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}

func hasStatus(err error, code int) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.StatusCode() == code
}

// describe is used in log fields for failed index calls.
func describe(err error) string {
	var se *httpx.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("http_%d", se.StatusCode())
	}
	return "error"
}
