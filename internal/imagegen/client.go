package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable covers timeouts, transport failures and non-200 replies.
var ErrUnavailable = errors.New("image generation service unavailable")

type Request struct {
	Prompt string
	Width  int
	Height int
	Model  string
}

type Result struct {
	URL    string
	Prompt string
	Width  int
	Height int
	Model  string
}

type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// PollinationsClient renders images by URL: the prompt URL is the image.
// Generate only probes it so a broken upstream is reported up front.
type PollinationsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPollinationsClient(baseURL string, timeout time.Duration) *PollinationsClient {
	return &PollinationsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *PollinationsClient) imageURL(req Request) string {
	query := url.Values{}
	query.Set("model", req.Model)
	query.Set("width", strconv.Itoa(req.Width))
	query.Set("height", strconv.Itoa(req.Height))

	return fmt.Sprintf(
		"%s/prompt/%s?%s",
		p.baseURL,
		url.PathEscape(req.Prompt),
		query.Encode(),
	)
}

func (p *PollinationsClient) Generate(ctx context.Context, req Request) (*Result, error) {
	imageURL := p.imageURL(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: status=%d",
			ErrUnavailable,
			resp.StatusCode,
		)
	}

	return &Result{
		URL:    imageURL,
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
		Model:  req.Model,
	}, nil
}
