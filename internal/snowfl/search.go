package snowfl

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/sourcegraph/conc/pool"
)

// DefaultResolveConcurrency bounds ResolveAll when no limit is given.
const DefaultResolveConcurrency = 4

// Search returns one page of results for query. Pages start at 0. An empty
// filter selects DefaultSortFilter.
func (c *Client) Search(ctx context.Context, query string, filter SortFilter, page int) ([]Item, error) {
	if filter == "" {
		filter = DefaultSortFilter
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%s/%s/%d/%s/NONE/1", token, url.PathEscape(query), c.nonce.Nonce(), page, filter)

	var items []Item
	if err := c.getJSON(ctx, path, &items); err != nil {
		return nil, err
	}

	c.log.Debug().Str("query", query).Int("page", page).Int("results", len(items)).Msg("Search complete")
	return items, nil
}

// ResolveMagnet asks the site for the magnet link behind item.
func (c *Client) ResolveMagnet(ctx context.Context, item Item) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	encoded := url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(item.URL)))
	path := token + "/" + url.PathEscape(item.Site) + "/" + encoded

	var out struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// ResolveAll resolves the magnet of every item that lacks one, running at
// most concurrency requests at a time. It returns copies of items; entries
// that failed to resolve are left without a magnet and their errors are
// joined into the returned error.
func (c *Client) ResolveAll(ctx context.Context, items []Item, concurrency int) ([]Item, error) {
	if concurrency < 1 {
		concurrency = DefaultResolveConcurrency
	}

	out := make([]Item, len(items))
	copy(out, items)

	p := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx)
	for i := range out {
		if out[i].Magnet != "" {
			continue
		}
		p.Go(func(ctx context.Context) error {
			magnet, err := c.ResolveMagnet(ctx, out[i])
			if err != nil {
				return fmt.Errorf("resolve %q: %w", out[i].Name, err)
			}
			out[i].Magnet = magnet
			return nil
		})
	}
	return out, p.Wait()
}
