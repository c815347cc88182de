package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/janelia-flyem/planar/format/bioformats"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
)

func testService(t *testing.T) *Service {
	c := DefaultConfig()
	c.Server.TempDir = t.TempDir()
	c.Cache.ChunkSize = "1MB"
	s, err := New(c)
	if err != nil {
		t.Fatalf("can't open test service: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testPNG(t *testing.T) string {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.SetGray(3, 2, color.Gray{Y: 51})
	fname := filepath.Join(t.TempDir(), "cells.png")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return fname
}

// testHTTP returns the response for a request, making sure it has the expected status.
func testHTTP(t *testing.T, h http.Handler, method, urlStr string, status int) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, nil)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != status {
		t.Fatalf("Bad server response (%d, expected %d) to %s on %q: %s\n", w.Code, status, method, urlStr, w.Body.String())
	}
	return w
}

func TestReadersAPI(t *testing.T) {
	s := testService(t)
	h := s.Handler()

	var readers []readerJSON
	w := testHTTP(t, h, "GET", WebAPIPath+"readers", http.StatusOK)
	if err := json.Unmarshal(w.Body.Bytes(), &readers); err != nil {
		t.Fatal(err)
	}
	status := make(map[string]string)
	for _, r := range readers {
		status[r.ID] = r.Status
	}
	if status["omezarr"] != "loaded" || status["imageio"] != "loaded" || status["bioformats"] != "failed" {
		t.Errorf("unexpected reader states: %v", status)
	}

	testHTTP(t, h, "POST", WebAPIPath+"readers/imageio/disable", http.StatusOK)
	testHTTP(t, h, "GET", WebAPIPath+"select?path=/data/a.png", http.StatusUnsupportedMediaType)
	testHTTP(t, h, "POST", WebAPIPath+"readers/imageio/enable", http.StatusOK)
	w = testHTTP(t, h, "GET", WebAPIPath+"select?path=/data/a.png", http.StatusOK)
	if !strings.Contains(w.Body.String(), `"imageio"`) {
		t.Errorf("expected imageio selected, got %s", w.Body.String())
	}

	testHTTP(t, h, "POST", WebAPIPath+"readers/nosuch/disable", http.StatusNotFound)
	testHTTP(t, h, "POST", WebAPIPath+"readers/bioformats/enable", http.StatusConflict)
	testHTTP(t, h, "GET", WebAPIPath+"select", http.StatusBadRequest)
}

func TestPlaneAPI(t *testing.T) {
	s := testService(t)
	h := s.Handler()
	fname := testPNG(t)
	q := url.Values{"path": {fname}, "rescale": {"false"}}

	w := testHTTP(t, h, "GET", WebAPIPath+"plane?"+q.Encode(), http.StatusOK)
	if got := w.Header().Get("X-Max-Intensity"); got != "255" {
		t.Errorf("expected X-Max-Intensity 255, got %q", got)
	}
	var plane struct {
		Shape  []int
		DType  string
		Values []float64
	}
	if err := json.Unmarshal(w.Body.Bytes(), &plane); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plane.Shape, []int{3, 4}) || plane.DType != "uint8" || plane.Values[11] != 51 {
		t.Errorf("unexpected plane %+v", plane)
	}

	req, _ := http.NewRequest("GET", WebAPIPath+"plane?"+q.Encode()+"&x=3&y=2&w=1&h=1", nil)
	req.Header.Set("Accept", bioformats.MsgpackType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("msgpack plane request failed: %d %s", rec.Code, rec.Body.String())
	}
	var p planar.Plane
	if _, err := p.UnmarshalMsg(rec.Body.Bytes()); err != nil {
		t.Fatal(err)
	}
	if p.Image.Len() != 1 || p.Image.Value(0) != 51 {
		t.Errorf("unexpected cropped plane %s", p.Image)
	}

	if st := s.Cache.Stats(); st.Open != 1 {
		t.Errorf("expected one cached reader, got %s", st)
	}
	testHTTP(t, h, "GET", WebAPIPath+"plane?"+q.Encode()+"&series=1", http.StatusRequestedRangeNotSatisfiable)
	testHTTP(t, h, "GET", WebAPIPath+"plane?path=/nonexistent/a.png", http.StatusNotFound)
	testHTTP(t, h, "GET", WebAPIPath+"plane?path=/data/notes.txt", http.StatusUnsupportedMediaType)

	testHTTP(t, h, "DELETE", WebAPIPath+"cache", http.StatusNoContent)
	if n := s.Cache.Len(); n != 0 {
		t.Errorf("expected empty cache after clear, got %d readers", n)
	}
}

func TestPinnedReadersBounded(t *testing.T) {
	c := DefaultConfig()
	c.Server.TempDir = t.TempDir()
	c.Cache.ChunkSize = "1MB"
	c.Cache.MaxPinned = 1
	s, err := New(c)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	h := s.Handler()

	first, second := testPNG(t), testPNG(t)
	testHTTP(t, h, "GET", WebAPIPath+"plane?"+url.Values{"path": {first}}.Encode(), http.StatusOK)
	if s.Pinned() != 1 || s.Cache.Len() != 1 {
		t.Fatalf("expected one pinned reader, got %d pinned, %s", s.Pinned(), s.Cache.Stats())
	}
	testHTTP(t, h, "GET", WebAPIPath+"plane?"+url.Values{"path": {second}}.Encode(), http.StatusOK)
	if s.Pinned() != 1 || s.Cache.Len() != 1 {
		t.Errorf("expected least recently used reader closed, got %d pinned, %s", s.Pinned(), s.Cache.Stats())
	}
	testHTTP(t, h, "GET", WebAPIPath+"dimensions?"+url.Values{"path": {first}}.Encode(), http.StatusOK)
	if s.Cache.Len() != 1 {
		t.Errorf("expected reopened reader to replace the pinned one, got %s", s.Cache.Stats())
	}
}

func TestDimensionsAPI(t *testing.T) {
	s := testService(t)
	h := s.Handler()
	q := url.Values{"path": {testPNG(t)}}

	w := testHTTP(t, h, "GET", WebAPIPath+"dimensions?"+q.Encode(), http.StatusOK)
	var dims reader.Dimensions
	if err := json.Unmarshal(w.Body.Bytes(), &dims); err != nil {
		t.Fatal(err)
	}
	want := reader.SeriesSize{C: 1, Z: 1, T: 1, Y: 3, X: 4}
	if dims.SizeS != 1 || dims.Series[0] != want {
		t.Errorf("unexpected dimensions %+v", dims)
	}
	testHTTP(t, h, "GET", WebAPIPath+"metadata?"+q.Encode(), http.StatusUnsupportedMediaType)
}

func TestBioformatsProxyToServer(t *testing.T) {
	backend := testService(t)
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	svc := &bioformats.HTTPService{Endpoint: ts.URL + WebAPIPath}
	fname := testPNG(t)
	dims, err := svc.SeriesDimensions(context.Background(), fname)
	if err != nil {
		t.Fatal(err)
	}
	if dims.SizeS != 1 {
		t.Errorf("unexpected dimensions %+v", dims)
	}
	plane, err := svc.Read(context.Background(), fname, reader.PlaneRequest{WantsMax: true})
	if err != nil {
		t.Fatal(err)
	}
	if plane.MaxIntensity != 255 || plane.Image.At(2, 3) != 51 {
		t.Errorf("unexpected plane %s ceiling %g", plane.Image, plane.MaxIntensity)
	}
}
