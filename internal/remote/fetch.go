package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/cenkalti/backoff"

	"github.com/roach88/storysync/internal/block"
)

// maxPages guards against a server that never stops paginating.
const maxPages = 10000

// Page is one page of a chapter fetch.
type Page struct {
	Blocks []block.ParagraphBlock
	// NextKey is the last evaluated key; empty when this was the last page.
	NextKey string
	// Empty is set for a 204 response.
	Empty bool
}

// FetchPage requests one page of chapter content starting after startKey.
// A 204 yields an empty page. 404 and 501 are returned as *StatusError.
func (c *Client) FetchPage(ctx context.Context, storyID, chapterID, startKey string) (Page, error) {
	q := url.Values{}
	q.Set("key", startKey)
	q.Set("chapter", chapterID)
	target := c.storyPath(storyID, "content") + "?" + q.Encode()

	status, data, err := c.do(ctx, "fetch content", http.MethodGet, target, nil)
	c.recordStatus(status)
	if err != nil {
		return Page{}, err
	}
	if status == http.StatusNoContent || len(data) == 0 {
		return Page{Empty: true}, nil
	}

	var resp pageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Page{}, fmt.Errorf("fetch content: decode response: %w", err)
	}

	page := Page{Blocks: make([]block.ParagraphBlock, 0, len(resp.Items))}
	placed := true
	for i, item := range resp.Items {
		place, ok := decodePlace(item.Place)
		if !ok {
			placed = false
			place = i
		}
		page.Blocks = append(page.Blocks, block.ParagraphBlock{
			KeyID:   item.KeyID.Value,
			Content: decodeChunk(item.Chunk.Value),
			Place:   place,
		})
	}
	if !placed {
		for i := range page.Blocks {
			page.Blocks[i].Place = -1
		}
	}
	if resp.LastEvaluatedKey != nil {
		page.NextKey = resp.LastEvaluatedKey.KeyID.Value
	}
	return page, nil
}

// FetchChapter loads every block of a chapter, following pagination.
//
// Blocks come back in place order when the server reports places and in
// arrival order otherwise, with Place renumbered from zero. A chapter that
// answers 404 or 501 on its first page is returned as one synthesized blank
// paragraph; 204 yields no blocks. Transient page failures are retried with
// exponential backoff.
func (c *Client) FetchChapter(ctx context.Context, storyID, chapterID string) ([]block.ParagraphBlock, error) {
	var (
		all      []block.ParagraphBlock
		startKey string
		seen     = make(map[string]bool)
	)

	for pageNum := 0; pageNum < maxPages; pageNum++ {
		page, err := c.fetchPageWithRetry(ctx, storyID, chapterID, startKey)
		if err != nil {
			status := StatusOf(err)
			if pageNum == 0 && (status == http.StatusNotFound || status == http.StatusNotImplemented) {
				if status == http.StatusNotImplemented {
					c.logger.Info("story table is being provisioned",
						"story_id", storyID,
						"chapter_id", chapterID)
				}
				return []block.ParagraphBlock{{
					KeyID:   c.keys.Generate(),
					Content: block.BlankContent(),
					Place:   0,
				}}, nil
			}
			return nil, err
		}

		all = append(all, page.Blocks...)
		if page.NextKey == "" || page.Empty {
			return orderFetched(all), nil
		}
		if seen[page.NextKey] {
			return nil, fmt.Errorf("fetch content: pagination repeated key %q", page.NextKey)
		}
		seen[page.NextKey] = true
		startKey = page.NextKey
	}
	return nil, fmt.Errorf("fetch content: more than %d pages", maxPages)
}

func (c *Client) fetchPageWithRetry(ctx context.Context, storyID, chapterID, startKey string) (Page, error) {
	var (
		page      Page
		permanent error
		attempt   int
	)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.backoffStart
	exp.MaxInterval = c.backoffMax
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.fetchRetries), ctx)

	err := backoff.Retry(func() error {
		attempt++
		p, err := c.FetchPage(ctx, storyID, chapterID, startKey)
		if err == nil {
			page = p
			return nil
		}
		if !IsTransient(err) {
			permanent = err
			return nil
		}
		c.logger.Debug("retrying chapter page fetch",
			"story_id", storyID,
			"chapter_id", chapterID,
			"attempt", attempt,
			"error", err)
		return err
	}, policy)

	if permanent != nil {
		return Page{}, permanent
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return Page{}, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return Page{}, err
	}
	return page, nil
}

// orderFetched sorts by reported place when every block carried one, then
// renumbers places densely from zero.
func orderFetched(blocks []block.ParagraphBlock) []block.ParagraphBlock {
	placed := len(blocks) > 0
	for _, b := range blocks {
		if b.Place < 0 {
			placed = false
			break
		}
	}
	if placed {
		sort.SliceStable(blocks, func(i, j int) bool {
			return blocks[i].Place < blocks[j].Place
		})
	}
	for i := range blocks {
		blocks[i].Place = i
	}
	return blocks
}
