package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/planar/format/bioformats"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
)

// WebAPIPath is the prefix of all HTTP API routes.
const WebAPIPath = "/api/"

// Handler returns the HTTP API:
//
//	GET  /api/readers
//	POST /api/readers/:id/enable
//	POST /api/readers/:id/disable
//	GET  /api/select?url=&open=
//	GET  /api/plane?url=&series=&c=&z=&t=&x=&y=&w=&h=&rescale=&max=
//	GET  /api/dimensions?url=
//	GET  /api/metadata?url=
//	GET  /api/cache
//	DELETE /api/cache
//
// Planes are returned as msgpack if the request accepts application/x-msgpack and as
// JSON otherwise.  The intensity ceiling is also sent in the X-Max-Intensity header.
func (s *Service) Handler() http.Handler {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(s.logActivity)
	mux.Use(middleware.Recoverer)

	mux.Get(WebAPIPath+"readers", s.readersHandler)
	mux.Post(WebAPIPath+"readers/:id/enable", s.enableHandler(true))
	mux.Post(WebAPIPath+"readers/:id/disable", s.enableHandler(false))
	mux.Get(WebAPIPath+"select", s.selectHandler)
	mux.Get(WebAPIPath+"plane", s.planeHandler)
	mux.Get(WebAPIPath+"dimensions", s.dimensionsHandler)
	mux.Get(WebAPIPath+"metadata", s.metadataHandler)
	mux.Get(WebAPIPath+"cache", s.cacheHandler)
	mux.Delete(WebAPIPath+"cache", s.clearCacheHandler)

	if len(s.Config.Server.CorsDomains) == 0 {
		return mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.Config.Server.CorsDomains,
		AllowedMethods: []string{"GET", "POST", "DELETE"},
	})
	return c.Handler(mux)
}

// logActivity records each API request to the activity log.
func (s *Service) logActivity(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := planar.NewTimeLog()
		h.ServeHTTP(w, r)
		s.Activity.Log(map[string]interface{}{
			"time":      timedLog.Elapsed().Seconds(),
			"method":    r.Method,
			"uri":       r.URL.String(),
			"requestID": middleware.GetReqID(*c),
			"remote":    r.RemoteAddr,
		})
		timedLog.Debugf("HTTP %s: %s\n", r.Method, r.URL)
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes an error message with a status chosen from the error kind.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, fmt.Errorf(format, args...))
}

func httpError(w http.ResponseWriter, r *http.Request, status int, err error) {
	planar.Errorf("%s %s: %v\n", r.Method, r.URL, err)
	http.Error(w, err.Error(), status)
}

// statusOf maps error kinds to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, planar.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, planar.ErrOutOfBounds):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, planar.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		planar.Errorf("Unable to write JSON response: %v\n", err)
	}
}

// resourceParams returns the url and path query parameters.
func resourceParams(r *http.Request) (path, url string, err error) {
	q := r.URL.Query()
	path, url = q.Get("path"), q.Get("url")
	if path == "" && url == "" {
		return "", "", fmt.Errorf("request must give a url or path parameter")
	}
	return path, url, nil
}

type readerJSON struct {
	ID      string
	Name    string
	Version string
	Status  string
	Reason  string `json:",omitempty"`
}

func (s *Service) readersHandler(w http.ResponseWriter, r *http.Request) {
	var out []readerJSON
	for _, d := range s.Registry.Descriptors() {
		out = append(out, readerJSON{
			ID:      d.ID,
			Name:    d.Name,
			Version: d.Version.String(),
			Status:  d.Status.String(),
			Reason:  d.Reason,
		})
	}
	writeJSON(w, out)
}

func (s *Service) enableHandler(enabled bool) func(web.C, http.ResponseWriter, *http.Request) {
	return func(c web.C, w http.ResponseWriter, r *http.Request) {
		id := c.URLParams["id"]
		if err := s.SetReaderEnabled(id, enabled); err != nil {
			status := statusOf(err)
			if status == http.StatusInternalServerError {
				status = http.StatusConflict
			}
			httpError(w, r, status, err)
			return
		}
		d, _ := s.Registry.Get(id)
		writeJSON(w, readerJSON{ID: d.ID, Name: d.Name, Version: d.Version.String(), Status: d.Status.String()})
	}
}

func (s *Service) selectHandler(w http.ResponseWriter, r *http.Request) {
	path, url, err := resourceParams(r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	ref := url
	if ref == "" {
		ref = path
	}
	res, err := storage.ParseResource(ref)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	allowOpen := s.Config.Readers.AllowOpen
	if v := r.URL.Query().Get("open"); v != "" {
		if allowOpen, err = strconv.ParseBool(v); err != nil {
			BadRequest(w, r, "bad open parameter %q", v)
			return
		}
	}
	d, err := s.Selector.Select(r.Context(), res, allowOpen)
	if err != nil {
		httpError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, readerJSON{ID: d.ID, Name: d.Name, Version: d.Version.String(), Status: d.Status.String()})
}

func (s *Service) planeHandler(w http.ResponseWriter, r *http.Request) {
	path, url, err := resourceParams(r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	req, err := reader.ParsePlaneRequest(r.URL.Query())
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	plane, err := s.ReadPlane(r.Context(), path, url, req)
	if err != nil {
		httpError(w, r, statusOf(err), err)
		return
	}
	w.Header().Set("X-Max-Intensity", strconv.FormatFloat(plane.MaxIntensity, 'g', -1, 64))
	if strings.Contains(r.Header.Get("Accept"), bioformats.MsgpackType) {
		data, err := plane.MarshalMsg(nil)
		if err != nil {
			httpError(w, r, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", bioformats.MsgpackType)
		w.Write(data)
		return
	}
	writeJSON(w, struct {
		Shape        []int
		DType        string
		Values       []float64
		MaxIntensity float64
	}{plane.Image.Shape, plane.Image.DType.String(), plane.Image.Float64s(), plane.MaxIntensity})
}

func (s *Service) dimensionsHandler(w http.ResponseWriter, r *http.Request) {
	path, url, err := resourceParams(r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	dims, err := s.Dimensions(r.Context(), path, url)
	if err != nil {
		httpError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, dims)
}

func (s *Service) metadataHandler(w http.ResponseWriter, r *http.Request) {
	path, url, err := resourceParams(r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	md, err := s.Metadata(r.Context(), path, url)
	if err != nil {
		httpError(w, r, statusOf(err), err)
		return
	}
	if md.Synthesized {
		w.Header().Set("Warning", fmt.Sprintf("199 - %q", md.Warning()))
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, md.XML)
}

func (s *Service) cacheHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Cache.Stats())
}

func (s *Service) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.ClearReaders()
	w.WriteHeader(http.StatusNoContent)
}
