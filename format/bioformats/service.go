package bioformats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
)

// MsgpackType is the content type of msgpack encoded planes.
const MsgpackType = "application/x-msgpack"

// Service decodes planes of formats planar has no native reader for.
type Service interface {
	Read(ctx context.Context, url string, req reader.PlaneRequest) (*planar.Plane, error)
	SeriesDimensions(ctx context.Context, url string) (*reader.Dimensions, error)
}

// HTTPService talks to a decoding service exposing /plane and /dimensions endpoints,
// e.g. another planar server's /api.
type HTTPService struct {
	// Endpoint is the base URL, e.g. "http://decoder:8000/api".
	Endpoint string

	// Client is used for requests.  If nil, http.DefaultClient is used.
	Client *http.Client
}

func (s *HTTPService) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

func (s *HTTPService) get(ctx context.Context, endpoint string, query url.Values, accept string) ([]byte, error) {
	u := strings.TrimRight(s.Endpoint, "/") + "/" + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, planar.OpenFailure(endpoint, query.Get("url"), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, planar.OpenFailure(endpoint, query.Get("url"), err)
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	cause := fmt.Errorf("decoding service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	ref := query.Get("url")
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, planar.NewError(endpoint, ref, planar.ErrNotFound, cause)
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, planar.NewError(endpoint, ref, planar.ErrOutOfBounds, cause)
	case http.StatusUnsupportedMediaType:
		return nil, planar.NewError(endpoint, ref, planar.ErrUnsupportedFormat, cause)
	}
	return nil, planar.OpenFailure(endpoint, ref, cause)
}

// Read fetches one plane as msgpack.
func (s *HTTPService) Read(ctx context.Context, ref string, req reader.PlaneRequest) (*planar.Plane, error) {
	query := req.Values()
	query.Set("url", ref)
	body, err := s.get(ctx, "plane", query, MsgpackType)
	if err != nil {
		return nil, err
	}
	plane := new(planar.Plane)
	if _, err := plane.UnmarshalMsg(body); err != nil {
		return nil, planar.OpenFailure("plane", ref, fmt.Errorf("bad plane encoding: %v", err))
	}
	return plane, nil
}

// SeriesDimensions fetches the JSON series description.
func (s *HTTPService) SeriesDimensions(ctx context.Context, ref string) (*reader.Dimensions, error) {
	body, err := s.get(ctx, "dimensions", url.Values{"url": {ref}}, "application/json")
	if err != nil {
		return nil, err
	}
	dims := new(reader.Dimensions)
	if err := json.Unmarshal(body, dims); err != nil {
		return nil, planar.OpenFailure("dimensions", ref, err)
	}
	return dims, nil
}
