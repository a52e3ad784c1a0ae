package client

import (
	"context"
	stderrors "errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/ajitpratap0/tap-adp/pkg/catalog"
	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/jsonutil"
	"github.com/ajitpratap0/tap-adp/pkg/metrics"
)

// Paginator walks one stream endpoint page by page. Paginated streams use
// the $top/$skip window protocol and stop on a 204 or an empty page;
// unpaginated streams yield a single page. Pages within a stream are always
// fetched sequentially.
type Paginator struct {
	client   *Client
	stream   *catalog.StreamDefinition
	pageSize int

	// streamCtx holds parent-provided placeholder values for child streams
	streamCtx map[string]string
	// sinceDate is the YYYYMMDD lower bound for incremental extraction
	sinceDate string

	skip int
	done bool
}

// Page is one batch of raw records from the upstream
type Page struct {
	Records []map[string]interface{}
	// Skipped marks a resource the upstream reported as unavailable; the
	// stream continues with the next resource
	Skipped bool
}

// NewPaginator creates a paginator for a stream. streamCtx supplies values
// for {placeholder} segments in the path and params of child streams;
// sinceDate activates the stream's incremental filter when non-empty.
func NewPaginator(c *Client, stream *catalog.StreamDefinition, pageSize int, streamCtx map[string]string, sinceDate string) *Paginator {
	return &Paginator{
		client:    c,
		stream:    stream,
		pageSize:  pageSize,
		streamCtx: streamCtx,
		sinceDate: sinceDate,
	}
}

// Next fetches the next page. It returns nil when the stream is exhausted.
// Fetch errors carry the stream name and cursor position so a failed run
// can be diagnosed without re-extraction.
func (p *Paginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	spec := RequestSpec{
		Path:          p.substitute(p.stream.Path),
		Params:        p.params(),
		Headers:       p.stream.Headers,
		EmptyOnStatus: p.stream.EmptyOnStatus,
		Skippable:     p.stream.Skippable,
	}

	resp, err := p.client.Get(ctx, spec)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			e.WithDetail("stream", p.stream.Name).WithDetail("skip", p.skip)
		}
		return nil, err
	}

	metrics.PagesFetched.WithLabelValues(p.stream.Name).Inc()

	if resp.Skipped {
		p.done = true
		return &Page{Skipped: true}, nil
	}
	if resp.Empty || resp.Status == 204 || len(resp.Body) == 0 {
		p.done = true
		return nil, nil
	}

	records, err := p.parse(resp.Body)
	if err != nil {
		return nil, err
	}

	if !p.stream.Paginated {
		p.done = true
	} else {
		p.skip += p.pageSize
		if len(records) == 0 {
			p.done = true
			return nil, nil
		}
	}

	if len(records) == 0 {
		return nil, nil
	}
	return &Page{Records: records}, nil
}

// params builds the query for the current page
func (p *Paginator) params() url.Values {
	params := url.Values{}
	for k, v := range p.stream.Params {
		params.Set(k, p.substitute(v))
	}
	if p.sinceDate != "" && p.stream.IncrementalFilter != "" {
		params.Set("$filter", strings.ReplaceAll(p.stream.IncrementalFilter, "{date}", p.sinceDate))
	}
	if p.stream.Paginated {
		params.Set("$top", strconv.Itoa(p.pageSize))
		params.Set("$skip", strconv.Itoa(p.skip))
	}
	return params
}

// substitute replaces {placeholder} segments with stream context values
func (p *Paginator) substitute(s string) string {
	for k, v := range p.streamCtx {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// parse extracts the record array from the response envelope
func (p *Paginator) parse(body []byte) ([]map[string]interface{}, error) {
	if p.stream.RecordsKey == "" {
		// the body is the record itself
		var record map[string]interface{}
		if err := jsonutil.Unmarshal(body, &record); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response body").
				WithDetail("stream", p.stream.Name)
		}
		return []map[string]interface{}{record}, nil
	}

	var envelope map[string]interface{}
	if err := jsonutil.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response envelope").
			WithDetail("stream", p.stream.Name)
	}

	raw, ok := envelope[p.stream.RecordsKey]
	if !ok {
		// a well-formed response without the collection key is an empty page
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
			"response key %q is not an array", p.stream.RecordsKey).
			WithDetail("stream", p.stream.Name)
	}

	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
				"response key %q contains a non-object element", p.stream.RecordsKey).
				WithDetail("stream", p.stream.Name)
		}
		records = append(records, record)
	}
	return records, nil
}
