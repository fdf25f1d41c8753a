package storage

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// downloader fetches remote inputs before they are uploaded.
type downloader struct {
	client *http.Client
}

func newDownloader(logger log.Logger) *downloader {
	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createDownloadRetryFunction(logger)
	return &downloader{client: retryableHTTPClient.StandardClient()}
}

func (d *downloader) download(ctx context.Context, url, dest string) error {
	g := got.New()
	g.Client = d.client

	return g.Do(got.NewDownload(ctx, url, dest))
}

func createDownloadRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}
