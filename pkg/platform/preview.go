package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Preview reads the public web preview pages of channels. It needs no
// account, so Join and Leave succeed without side effects and no platform
// id is ever reported.
type Preview struct {
	client  *http.Client
	baseURL string
}

// NewPreview creates a preview client rooted at baseURL (e.g. https://t.me).
func NewPreview(baseURL string, timeout time.Duration) *Preview {
	if baseURL == "" {
		baseURL = "https://t.me"
	}
	return &Preview{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type previewPage struct {
	title string
	extra string
}

func (p *Preview) Resolve(ctx context.Context, id Identifier) (*Entity, error) {
	if id.Handle == "" && id.InviteToken == "" {
		return nil, fmt.Errorf("preview resolve %s: %w", id, ErrUnsupported)
	}

	page, err := p.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	e := &Entity{
		Handle:      id.Handle,
		InviteToken: id.InviteToken,
		Title:       page.title,
		Kind:        previewKind(page.extra),
	}
	return e, nil
}

func (p *Preview) Join(ctx context.Context, e *Entity) (*Entity, error) {
	return e, nil
}

func (p *Preview) Leave(ctx context.Context, e *Entity) error {
	return nil
}

func (p *Preview) FullInfo(ctx context.Context, e *Entity) (*FullInfo, error) {
	page, err := p.fetch(ctx, Identifier{Handle: e.Handle, InviteToken: e.InviteToken})
	if err != nil {
		return nil, err
	}
	count, ok := parseAudience(page.extra)
	if !ok {
		return nil, fmt.Errorf("preview %s: no audience size in %q", entityLabel(e), page.extra)
	}
	return &FullInfo{Title: page.title, MemberCount: count}, nil
}

func (p *Preview) Dialogs(ctx context.Context) ([]Entity, error) {
	return nil, fmt.Errorf("preview dialogs: %w", ErrUnsupported)
}

func (p *Preview) pageURL(id Identifier) string {
	if id.InviteToken != "" {
		return p.baseURL + "/+" + url.PathEscape(id.InviteToken)
	}
	return p.baseURL + "/" + url.PathEscape(id.Handle)
}

func (p *Preview) fetch(ctx context.Context, id Identifier) (*previewPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pageURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create preview request %s: %w", id, err)
	}
	req.Header.Set("User-Agent", "chanwatch/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch preview %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("preview %s: %w", id, notFoundFor(id))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview %s status %d", id, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse preview %s: %w", id, err)
	}

	page := &previewPage{
		title: strings.TrimSpace(doc.Find(".tgme_page_title").First().Text()),
		extra: strings.TrimSpace(doc.Find(".tgme_page_extra").First().Text()),
	}
	if page.title == "" {
		return nil, fmt.Errorf("preview %s: %w", id, notFoundFor(id))
	}
	return page, nil
}

func notFoundFor(id Identifier) error {
	if id.InviteToken != "" {
		return ErrInviteExpired
	}
	return ErrNotFound
}

func previewKind(extra string) Kind {
	lower := strings.ToLower(extra)
	switch {
	case strings.Contains(lower, "subscriber"):
		return KindChannel
	case strings.Contains(lower, "member"):
		return KindChat
	}
	return KindUser
}

// parseAudience extracts the count preceding "subscribers"/"members",
// e.g. "12 345 subscribers" or "1 234 members, 56 online".
func parseAudience(extra string) (int, bool) {
	lower := strings.ToLower(extra)
	idx := strings.Index(lower, "subscriber")
	if idx < 0 {
		idx = strings.Index(lower, "member")
	}
	if idx < 0 {
		return 0, false
	}

	var digits strings.Builder
	for _, r := range lower[:idx] {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}
