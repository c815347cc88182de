/*
	Package format registers the readers compiled into planar.
*/
package format

import (
	"fmt"
	"net/http"
	"time"

	"github.com/janelia-flyem/planar/format/bioformats"
	"github.com/janelia-flyem/planar/format/gcs"
	"github.com/janelia-flyem/planar/format/imageio"
	"github.com/janelia-flyem/planar/format/omezarr"
	"github.com/janelia-flyem/planar/planar"
	"github.com/janelia-flyem/planar/reader"
	"github.com/janelia-flyem/planar/storage"
	"github.com/janelia-flyem/planar/zarr"
)

// Config tunes the builtin readers.
type Config struct {
	// Disabled lists reader ids registered but excluded from selection.
	Disabled []string

	// Downloader holds temporary copies of remote resources.
	Downloader *storage.Downloader

	// Store tunes opened Zarr stores.
	Store zarr.Options

	// BioformatsEndpoint is the base URL of the external decoding service.  The
	// bioformats reader fails to load if it is empty.
	BioformatsEndpoint string

	// BioformatsTimeout bounds each request to the decoding service.  Zero means none.
	BioformatsTimeout time.Duration
}

// RegisterBuiltins registers every builtin reader in selection tie-break order:
// omezarr, imageio, gcs, bioformats.
func RegisterBuiltins(reg *reader.Registry, cfg Config) {
	reg.Register(omezarr.ID, &omezarr.Format{Downloader: cfg.Downloader, Store: cfg.Store})
	reg.Register(imageio.ID, &imageio.Format{Downloader: cfg.Downloader})
	reg.Register(gcs.ID, &gcs.Format{Downloader: cfg.Downloader})
	if cfg.BioformatsEndpoint == "" {
		reg.MarkFailed(bioformats.ID, fmt.Errorf("no decoding service endpoint configured"))
	} else {
		svc := &bioformats.HTTPService{
			Endpoint: cfg.BioformatsEndpoint,
			Client:   &http.Client{Timeout: cfg.BioformatsTimeout},
		}
		reg.Register(bioformats.ID, &bioformats.Format{Service: svc})
	}

	for _, id := range cfg.Disabled {
		if err := reg.SetEnabled(id, false); err != nil {
			planar.Warningf("Unable to disable reader %q: %v\n", id, err)
		}
	}
	if n := len(reg.EnabledReaders()); n == 0 {
		planar.Criticalf("No image readers are available: %d registered, %d failed\n", reg.Len(), len(reg.Failed()))
	} else {
		planar.Infof("%d image readers available\n", n)
	}
}
