// Package video resolves recording URLs of remote browser sessions.
package video

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/sirupsen/logrus"
)

const (
	sessionPlaceholder = "{session}"
	testPlaceholder    = "{test}"
)

// TemplateResolver builds recording URLs from a template such as
// "http://selenoid:4444/video/{session}.mp4".
type TemplateResolver struct {
	log      logrus.FieldLogger
	template string
	verify   bool
	client   *http.Client
}

// NewTemplateResolver creates a resolver from cfg. It returns nil when
// video resolution is disabled.
func NewTemplateResolver(
	log logrus.FieldLogger,
	cfg *config.VideoConfig,
) (*TemplateResolver, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if !strings.Contains(cfg.Template, sessionPlaceholder) {
		return nil, fmt.Errorf("video template %q must contain %s",
			cfg.Template, sessionPlaceholder)
	}

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	return &TemplateResolver{
		log:      log.WithField("component", "video"),
		template: cfg.Template,
		verify:   cfg.Verify,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// VideoURL returns the recording URL of sessionID. When verification is
// enabled the URL must answer a HEAD request with a 2xx status.
func (r *TemplateResolver) VideoURL(
	ctx context.Context, sessionID, test string,
) (string, error) {
	u := strings.NewReplacer(
		sessionPlaceholder, url.PathEscape(sessionID),
		testPlaceholder, url.PathEscape(test),
	).Replace(r.template)

	if !r.verify {
		return u, nil
	}

	if err := r.check(ctx, u); err != nil {
		return "", err
	}

	return u, nil
}

func (r *TemplateResolver) check(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	start := time.Now()

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("checking recording %s: %w", u, err)
	}
	defer resp.Body.Close()

	r.log.WithFields(logrus.Fields{
		"url":      u,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Checked recording")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("recording %s returned status %d", u, resp.StatusCode)
	}

	return nil
}
