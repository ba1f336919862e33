// File: internal/platform/api.go
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"

	"github.com/wyatt727/BSTI/api/schemas"
)

// flawPayload is the wire shape for create and update calls. Identity and
// bookkeeping fields (flaw key, scope, category, screenshot path) stay
// client-side.
type flawPayload struct {
	Title           string                `json:"title"`
	Severity        schemas.Severity      `json:"severity"`
	Description     string                `json:"description"`
	Recommendations string                `json:"recommendations,omitempty"`
	References      []string              `json:"references,omitempty"`
	AffectedAssets  []schemas.Asset       `json:"affected_assets"`
	CustomFields    []schemas.CustomField `json:"custom_fields,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
}

func newFlawPayload(flaw schemas.Flaw) flawPayload {
	return flawPayload{
		Title:           flaw.Title,
		Severity:        flaw.Severity,
		Description:     flaw.Description,
		Recommendations: flaw.Recommendations,
		References:      flaw.References,
		AffectedAssets:  flaw.AffectedAssets,
		CustomFields:    flaw.CustomFields,
		Tags:            flaw.Tags,
	}
}

type createFlawResponse struct {
	FlawID string `json:"flaw_id"`
}

type remoteFlaw struct {
	FlawID string `json:"flaw_id"`
	Title  string `json:"title"`
}

type listFlawsResponse struct {
	Flaws []remoteFlaw `json:"flaws"`
}

// Writeup is the platform's long-form writeup record referenced by a
// category's writeup_db_id.
type Writeup struct {
	ID              string   `json:"writeup_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Recommendations string   `json:"recommendations"`
	References      []string `json:"references"`
}

func (c *Client) reportPath() string {
	return fmt.Sprintf("/api/v1/client/%s/report/%s",
		url.PathEscape(c.cfg.ClientID), url.PathEscape(c.cfg.ReportID))
}

// CreateFlaw posts a new flaw and returns the platform-assigned id.
func (c *Client) CreateFlaw(ctx context.Context, flaw schemas.Flaw) (string, error) {
	body, err := json.Marshal(newFlawPayload(flaw))
	if err != nil {
		return "", fmt.Errorf("encoding flaw %s: %w", flaw.FlawKey, err)
	}

	var resp createFlawResponse
	if err := c.do(ctx, apiRequest{
		op:          "create",
		method:      "POST",
		path:        c.reportPath() + "/flaw",
		body:        body,
		contentType: "application/json",
	}, &resp); err != nil {
		return "", err
	}
	if resp.FlawID == "" {
		return "", fmt.Errorf("create flaw %s: platform returned no flaw_id", flaw.FlawKey)
	}
	return resp.FlawID, nil
}

// UpdateFlaw replaces the content of an existing flaw.
func (c *Client) UpdateFlaw(ctx context.Context, remoteID string, flaw schemas.Flaw) error {
	body, err := json.Marshal(newFlawPayload(flaw))
	if err != nil {
		return fmt.Errorf("encoding flaw %s: %w", flaw.FlawKey, err)
	}

	return c.do(ctx, apiRequest{
		op:          "update",
		method:      "PUT",
		path:        c.reportPath() + "/flaw/" + url.PathEscape(remoteID),
		body:        body,
		contentType: "application/json",
	}, nil)
}

// ListFlaws returns the set of flaw ids currently live on the report, used
// by remote refresh to spot ledger entries whose flaw was deleted upstream.
func (c *Client) ListFlaws(ctx context.Context) (map[string]bool, error) {
	var resp listFlawsResponse
	if err := c.do(ctx, apiRequest{
		op:     "list",
		method: "GET",
		path:   c.reportPath() + "/flaws",
	}, &resp); err != nil {
		return nil, err
	}

	live := make(map[string]bool, len(resp.Flaws))
	for _, f := range resp.Flaws {
		live[f.FlawID] = true
	}
	return live, nil
}

// UploadArtifact attaches a local file to a flaw as multipart form data.
func (c *Client) UploadArtifact(ctx context.Context, remoteID, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact %s: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building artifact form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("reading artifact %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing artifact form: %w", err)
	}

	return c.do(ctx, apiRequest{
		op:          "artifact",
		method:      "POST",
		path:        c.reportPath() + "/flaw/" + url.PathEscape(remoteID) + "/artifact",
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
	}, nil)
}

// GetWriteup fetches the writeup record behind a category.
func (c *Client) GetWriteup(ctx context.Context, writeupDBID string) (*Writeup, error) {
	var writeup Writeup
	if err := c.do(ctx, apiRequest{
		op:     "writeup",
		method: "GET",
		path:   "/api/v1/writeups/" + url.PathEscape(writeupDBID),
	}, &writeup); err != nil {
		return nil, err
	}
	return &writeup, nil
}
