package repo

import (
	"bytes"
	"context"
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/coredeploy/vertexd/cmn/xerrors"
)

// FastHTTPRepository is the low-latency sibling of HTTPRepository, built on
// valyala/fasthttp's connection-pooled client. It is the
// repository of choice for a module registry colocated on the same
// cluster, where per-request allocation overhead dominates.
type FastHTTPRepository struct {
	BaseURL string
	Client  *fasthttp.Client
}

func NewFastHTTPRepository(baseURL string) *FastHTTPRepository {
	return &FastHTTPRepository{
		BaseURL: baseURL,
		Client:  &fasthttp.Client{Name: "vertexd-module-resolver"},
	}
}

func (f *FastHTTPRepository) Name() string { return "fasthttp://" + f.BaseURL }

func (f *FastHTTPRepository) Install(ctx context.Context, name, modRoot string) error {
	url := fmt.Sprintf("%s/%s.tar.lz4", f.BaseURL, name)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline, hasDeadline := ctx.Deadline()
	var err error
	if hasDeadline {
		err = f.Client.DoDeadline(req, resp, deadline)
	} else {
		err = f.Client.Do(req, resp)
	}
	if err != nil {
		return xerrors.Wrap(xerrors.KindTransient, err, "fetching "+url)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return xerrors.New(xerrors.KindResolution, "module not found: "+name)
	default:
		return xerrors.Newf(xerrors.KindTransient, "unexpected status %d fetching %s", resp.StatusCode(), url)
	}

	got, err := extractArchive(bytes.NewReader(resp.Body()), modRoot, name)
	if err != nil {
		return err
	}
	return verifyChecksum(string(resp.Header.Peek("X-Module-Checksum")), got)
}
