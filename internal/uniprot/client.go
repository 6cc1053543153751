package uniprot

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"peptaxa/internal/remote"
)

const (
	DefaultBaseURL   = "https://rest.uniprot.org/uniprotkb"
	DefaultBatchSize = 200
)

// Entry is the subset of a UniProtKB entry the pipeline uses.
type Entry struct {
	Accession  string `json:"accession"`
	Name       string `json:"name"`
	TaxonomyID int    `json:"taxonomy_id,omitempty"`
	ECNumber   string `json:"ec_number,omitempty"`
}

// Client fetches UniProtKB entries in batches.
type Client struct {
	BaseURL   string
	BatchSize int
	Requester *remote.Requester

	logger *log.Logger
}

func NewClient(baseURL string, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		BatchSize: DefaultBatchSize,
		Requester: remote.NewRequester(logger),
		logger:    logger,
	}
}

// primaryID strips an entry name suffix: "P69905_HUMAN" → "P69905".
func primaryID(id string) string {
	if i := strings.Index(id, "_"); i >= 0 {
		return id[:i]
	}
	return id
}

// FetchEntries looks ids up in batches of BatchSize. Unknown ids are
// absent from the result.
func (c *Client) FetchEntries(ctx context.Context, ids []string) ([]Entry, error) {
	size := c.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if c.logger != nil {
		c.logger.Debug("splitting uniprot ids into batches", "ids", len(ids), "batches", (len(ids)+size-1)/size, "batch_size", size)
	}
	var out []Entry
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		entries, err := c.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
		if c.logger != nil {
			c.logger.Debug("fetched uniprot entries", "done", end, "of", len(ids))
		}
	}
	return out, nil
}

// EntryMap is FetchEntries keyed by accession.
func (c *Client) EntryMap(ctx context.Context, ids []string) (map[string]Entry, error) {
	entries, err := c.FetchEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Accession] = e
	}
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, ids []string) ([]Entry, error) {
	primary := make([]string, len(ids))
	for i, id := range ids {
		primary[i] = primaryID(id)
	}
	q := url.Values{}
	q.Set("accessions", strings.Join(primary, ","))
	q.Set("format", "xml")
	endpoint := c.BaseURL + "/accessions?" + q.Encode()

	body, err := c.Requester.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/xml")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("uniprot: %w", err)
	}
	return ParseEntries(body)
}

type xmlDoc struct {
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Accessions []string `xml:"accession"`
	Name       string   `xml:"name"`
	Organism   struct {
		DBReferences []struct {
			Type string `xml:"type,attr"`
			ID   string `xml:"id,attr"`
		} `xml:"dbReference"`
	} `xml:"organism"`
	ECNumbers []string `xml:"protein>recommendedName>ecNumber"`
}

// ParseEntries decodes a UniProt XML document. The first accession of an
// entry is its primary accession.
func ParseEntries(data []byte) ([]Entry, error) {
	var doc xmlDoc
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode uniprot xml: %w", err)
	}
	out := make([]Entry, 0, len(doc.Entries))
	for _, x := range doc.Entries {
		if len(x.Accessions) == 0 {
			continue
		}
		e := Entry{Accession: x.Accessions[0], Name: x.Name}
		for _, ref := range x.Organism.DBReferences {
			if ref.Type != "NCBI Taxonomy" {
				continue
			}
			id, err := strconv.Atoi(ref.ID)
			if err != nil {
				return nil, fmt.Errorf("entry %s: taxonomy id %q: %w", e.Accession, ref.ID, err)
			}
			e.TaxonomyID = id
			break
		}
		if len(x.ECNumbers) > 0 {
			e.ECNumber = x.ECNumbers[0]
		}
		out = append(out, e)
	}
	return out, nil
}
