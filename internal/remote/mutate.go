package remote

import (
	"context"
	"net/http"

	"github.com/roach88/storysync/internal/block"
)

// SaveBlocks upserts blocks of one chapter in a single request.
func (c *Client) SaveBlocks(ctx context.Context, storyID, chapterID string, blocks []block.ParagraphBlock) error {
	req := saveRequest{
		StoryID:   storyID,
		ChapterID: chapterID,
		Blocks:    make([]saveBlock, 0, len(blocks)),
	}
	for _, b := range blocks {
		chunk := b.Content
		if len(chunk) == 0 {
			chunk = block.BlankContent()
		}
		req.Blocks = append(req.Blocks, saveBlock{KeyID: b.KeyID, Chunk: chunk, Place: b.Place})
	}
	status, _, err := c.do(ctx, "save blocks", http.MethodPut, c.storyPath(storyID), req)
	if err != nil {
		return err
	}
	c.recordStatus(status)
	return nil
}

// DeleteBlocks removes blocks of one chapter in a single request.
func (c *Client) DeleteBlocks(ctx context.Context, storyID, chapterID string, keys []string) error {
	req := deleteRequest{
		StoryID:   storyID,
		ChapterID: chapterID,
		Blocks:    make([]keyRef, 0, len(keys)),
	}
	for _, k := range keys {
		req.Blocks = append(req.Blocks, keyRef{KeyID: k})
	}
	status, _, err := c.do(ctx, "delete blocks", http.MethodDelete, c.storyPath(storyID, "block"), req)
	if err != nil {
		return err
	}
	c.recordStatus(status)
	return nil
}

// SyncOrder replaces the order map of a chapter.
func (c *Client) SyncOrder(ctx context.Context, storyID, chapterID string, order []block.Placement) error {
	if order == nil {
		order = []block.Placement{}
	}
	req := orderRequest{ChapterID: chapterID, Blocks: order}
	status, _, err := c.do(ctx, "sync order", http.MethodPut, c.storyPath(storyID, "orderMap"), req)
	if err != nil {
		return err
	}
	c.recordStatus(status)
	return nil
}
