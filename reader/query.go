package reader

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/janelia-flyem/planar/planar"
)

// Values encodes the request as URL query parameters: series, c, z, t, x, y, w, h,
// rescale and max.  Unset indices are omitted.
func (r PlaneRequest) Values() url.Values {
	v := url.Values{}
	v.Set("series", strconv.Itoa(r.Series))
	for name, idx := range map[string]planar.Index{"c": r.C, "z": r.Z, "t": r.T} {
		if idx.Set {
			v.Set(name, strconv.Itoa(idx.N))
		}
	}
	if r.Crop != nil {
		v.Set("x", strconv.FormatFloat(r.Crop.X, 'g', -1, 64))
		v.Set("y", strconv.FormatFloat(r.Crop.Y, 'g', -1, 64))
		v.Set("w", strconv.Itoa(r.Crop.W))
		v.Set("h", strconv.Itoa(r.Crop.H))
	}
	v.Set("rescale", strconv.FormatBool(r.Rescale))
	v.Set("max", strconv.FormatBool(r.WantsMax))
	return v
}

// ParsePlaneRequest decodes query parameters written by Values.  Rescale and max
// default to true when absent.
func ParsePlaneRequest(v url.Values) (PlaneRequest, error) {
	req := PlaneRequest{Rescale: true, WantsMax: true}
	var err error
	if s := v.Get("series"); s != "" {
		if req.Series, err = strconv.Atoi(s); err != nil {
			return req, fmt.Errorf("bad series %q: %v", s, err)
		}
	}
	for _, axis := range []struct {
		name string
		idx  *planar.Index
	}{{"c", &req.C}, {"z", &req.Z}, {"t", &req.T}} {
		s := v.Get(axis.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return req, fmt.Errorf("bad %s index %q: %v", axis.name, s, err)
		}
		*axis.idx = planar.At(n)
	}

	xs, ys, ws, hs := v.Get("x"), v.Get("y"), v.Get("w"), v.Get("h")
	if xs != "" || ys != "" || ws != "" || hs != "" {
		var crop planar.Rect
		if crop.X, err = strconv.ParseFloat(xs, 64); err != nil {
			return req, fmt.Errorf("bad crop x %q", xs)
		}
		if crop.Y, err = strconv.ParseFloat(ys, 64); err != nil {
			return req, fmt.Errorf("bad crop y %q", ys)
		}
		if crop.W, err = strconv.Atoi(ws); err != nil {
			return req, fmt.Errorf("bad crop width %q", ws)
		}
		if crop.H, err = strconv.Atoi(hs); err != nil {
			return req, fmt.Errorf("bad crop height %q", hs)
		}
		req.Crop = &crop
	}

	if s := v.Get("rescale"); s != "" {
		if req.Rescale, err = strconv.ParseBool(s); err != nil {
			return req, fmt.Errorf("bad rescale %q", s)
		}
	}
	if s := v.Get("max"); s != "" {
		if req.WantsMax, err = strconv.ParseBool(s); err != nil {
			return req, fmt.Errorf("bad max %q", s)
		}
	}
	return req, nil
}
