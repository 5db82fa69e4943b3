package notion

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/mschirtzinger/inksync/internal/remote"
)

const (
	// maxChildren is the Notion limit for one children array.
	maxChildren = 100

	// blocksPerPage is the number of container children used by one page:
	// the image and a paragraph holding its recognized text.
	blocksPerPage = 2

	emptyTextPlaceholder = "(no text recognized)"
)

type fileUploadRequest struct {
	Mode        string `json:"mode"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type fileUploadObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UploadURL string `json:"upload_url"`
}

type block struct {
	Object    string          `json:"object"`
	Type      string          `json:"type"`
	Toggle    *toggleBlock    `json:"toggle,omitempty"`
	Image     *imageBlock     `json:"image,omitempty"`
	Paragraph *paragraphBlock `json:"paragraph,omitempty"`
}

type toggleBlock struct {
	RichText []richText `json:"rich_text"`
	Children []block    `json:"children,omitempty"`
}

type paragraphBlock struct {
	RichText []richText `json:"rich_text"`
}

type imageBlock struct {
	Type       string        `json:"type"`
	FileUpload *fileUploadID `json:"file_upload,omitempty"`
	Caption    []richText    `json:"caption,omitempty"`
}

type fileUploadID struct {
	ID string `json:"id"`
}

type appendRequest struct {
	Children []block `json:"children"`
}

type appendResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type childrenResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// AttachContent implements remote.Client.
//
// Images are uploaded first; unattached uploads expire on their own. All
// containers are then appended to the page in one request, so either every
// page becomes visible or none does. The returned reference lists the
// container block IDs separated by commas.
//
// An append can be committed even though its response is lost. When the
// append fails, blocks that appeared on the page since the call started are
// deleted again, so a retry does not leave a second copy behind.
func (c *Client) AttachContent(ctx context.Context, id string, title string, pages []remote.PageContent) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}

	uploads := make([]string, len(pages))
	for i, p := range pages {
		fileID, err := c.uploadImage(ctx, fmt.Sprintf("page-%03d.png", p.Number), p.Image)
		if err != nil {
			return "", fmt.Errorf("failed to upload page %d: %w", p.Number, err)
		}
		uploads[i] = fileID
	}

	before, err := c.childIDs(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to list page content: %w", err)
	}

	req := appendRequest{Children: containers(title, pages, uploads)}
	var resp appendResponse
	if err := c.do(ctx, http.MethodPatch, "/blocks/"+id+"/children", APIVersion, req, &resp); err != nil {
		c.discardAppended(ctx, id, before)
		return "", fmt.Errorf("failed to append content: %w", err)
	}
	if len(resp.Results) < len(req.Children) {
		c.discardAppended(ctx, id, before)
		return "", &remote.APIError{
			Status:  http.StatusBadGateway,
			Code:    remote.CodeInternal,
			Message: fmt.Sprintf("append returned %d blocks, want %d", len(resp.Results), len(req.Children)),
		}
	}

	// The response lists the new first-level blocks last.
	ids := make([]string, 0, len(req.Children))
	for _, r := range resp.Results[len(resp.Results)-len(req.Children):] {
		ids = append(ids, r.ID)
	}
	return strings.Join(ids, ","), nil
}

// childIDs returns the IDs of the first-level blocks of a page.
func (c *Client) childIDs(ctx context.Context, id string) (map[string]bool, error) {
	ids := make(map[string]bool)
	cursor := ""
	for {
		path := fmt.Sprintf("/blocks/%s/children?page_size=%d", id, maxChildren)
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}
		var resp childrenResponse
		if err := c.do(ctx, http.MethodGet, path, APIVersion, nil, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			ids[r.ID] = true
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return ids, nil
		}
		cursor = *resp.NextCursor
	}
}

// discardAppended deletes first-level blocks of a page that are not in
// before. Failures are logged.
func (c *Client) discardAppended(ctx context.Context, id string, before map[string]bool) {
	after, err := c.childIDs(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("page", id).Msg("failed to check for partially appended content")
		return
	}
	var added []string
	for blockID := range after {
		if !before[blockID] {
			added = append(added, blockID)
		}
	}
	if len(added) == 0 {
		return
	}
	if err := c.DeleteContent(ctx, id, strings.Join(added, ",")); err != nil {
		c.logger.Warn().Err(err).Str("page", id).Msg("failed to remove appended content")
		return
	}
	c.logger.Debug().Str("page", id).Int("blocks", len(added)).Msg("removed content from failed append")
}

// DeleteContent implements remote.Client. Blocks that no longer exist are
// ignored.
func (c *Client) DeleteContent(ctx context.Context, _ string, ref string) error {
	for _, blockID := range strings.Split(ref, ",") {
		blockID = strings.TrimSpace(blockID)
		if blockID == "" {
			continue
		}
		err := c.do(ctx, http.MethodDelete, "/blocks/"+blockID, APIVersion, nil, nil)
		if apiErr, ok := remote.AsAPIError(err); ok && apiErr.IsNotFound() {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete block %s: %w", blockID, err)
		}
	}
	return nil
}

// containers groups pages into toggle blocks that each respect the
// children limit.
func containers(title string, pages []remote.PageContent, uploads []string) []block {
	perContainer := maxChildren / blocksPerPage
	var out []block
	for start := 0; start < len(pages); start += perContainer {
		end := min(start+perContainer, len(pages))
		label := fmt.Sprintf("%s (pages %d-%d)", title, pages[start].Number, pages[end-1].Number)
		if start == 0 && end == len(pages) {
			label = title
		}

		children := make([]block, 0, (end-start)*blocksPerPage)
		for i := start; i < end; i++ {
			children = append(children, pageBlocks(pages[i], uploads[i])...)
		}
		out = append(out, block{
			Object: "block",
			Type:   "toggle",
			Toggle: &toggleBlock{
				RichText: textObjects(label),
				Children: children,
			},
		})
	}
	return out
}

func pageBlocks(p remote.PageContent, fileID string) []block {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		text = emptyTextPlaceholder
	}
	rt := textObjects(text)
	if len(rt) > maxChildren {
		rt = rt[:maxChildren]
	}
	return []block{
		{
			Object: "block",
			Type:   "image",
			Image: &imageBlock{
				Type:       "file_upload",
				FileUpload: &fileUploadID{ID: fileID},
				Caption:    textObjects(fmt.Sprintf("Page %d", p.Number)),
			},
		},
		{
			Object:    "block",
			Type:      "paragraph",
			Paragraph: &paragraphBlock{RichText: rt},
		},
	}
}

// uploadImage stores a PNG with the file upload API and returns its ID.
func (c *Client) uploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	var created fileUploadObject
	err := c.do(ctx, http.MethodPost, "/file_uploads", FileUploadVersion, fileUploadRequest{
		Mode:        "single_part",
		Filename:    filename,
		ContentType: "image/png",
	}, &created)
	if err != nil {
		return "", fmt.Errorf("failed to create file upload: %w", err)
	}
	if created.ID == "" {
		return "", &remote.APIError{Status: http.StatusBadGateway, Code: remote.CodeInternal, Message: "file upload has no id"}
	}

	uploadURL := created.UploadURL
	if uploadURL == "" {
		uploadURL = c.baseURL + "/file_uploads/" + created.ID + "/send"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Notion-Version", FileUploadVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var sent fileUploadObject
	if err := c.send(req, &sent); err != nil {
		return "", fmt.Errorf("failed to send file upload: %w", err)
	}
	return created.ID, nil
}
