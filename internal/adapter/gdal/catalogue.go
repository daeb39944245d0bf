// Package gdal implements the raster catalogue port on top of GDAL via
// airbusgeo/godal. Object-store URLs are translated to GDAL virtual file
// system paths, so rasters are windowed remotely without a full download.
package gdal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/sethvargo/go-retry"

	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/port/cache"
	"github.com/silvaplan/silvaplan/internal/port/raster"
)

var registerOnce sync.Once

// Catalogue implements raster.Catalogue. Reads retry with exponential
// backoff on transient failures. The retry sits here, below the window
// cache, so every reader shares one policy; raster.max_retries = 0 disables
// it and transient errors then propagate to the caller unchanged.
type Catalogue struct {
	cfg    config.Raster
	cache  cache.Cache[string, *raster.Grid]
	logger *slog.Logger
}

// NewCatalogue creates a catalogue. cache may be nil to disable window
// caching.
func NewCatalogue(cfg config.Raster, c cache.Cache[string, *raster.Grid], logger *slog.Logger) *Catalogue {
	registerOnce.Do(godal.RegisterAll)
	return &Catalogue{cfg: cfg, cache: c, logger: logger}
}

// VSIPath translates object-store URLs into GDAL virtual filesystem paths.
// Plain filesystem paths pass through unchanged.
func VSIPath(url string) string {
	switch {
	case strings.HasPrefix(url, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(url, "s3://")
	case strings.HasPrefix(url, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(url, "gs://")
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return "/vsicurl/" + url
	}
	return url
}

// Probe opens a raster path and returns its structural metadata. The CRS is
// validated here, once, against the internal CRS; compute paths trust it.
func (c *Catalogue) Probe(ctx context.Context, path string, band int) (*datalayer.Info, error) {
	ds, err := c.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	st := ds.Structure()
	bands := ds.Bands()
	if band < 1 {
		band = 1
	}
	if band > len(bands) {
		return nil, fmt.Errorf("band %d out of range (raster has %d): %w",
			band, len(bands), domain.ErrBadConfiguration)
	}

	ref, err := godal.NewSpatialRefFromEPSG(c.cfg.InternalEPSG)
	if err != nil {
		return nil, fmt.Errorf("internal crs epsg:%d: %w", c.cfg.InternalEPSG, err)
	}
	defer ref.Close()
	sr := ds.SpatialRef()
	if sr == nil || !sr.IsSame(ref) {
		return nil, fmt.Errorf("raster %s is not in epsg:%d: %w",
			path, c.cfg.InternalEPSG, domain.ErrBadConfiguration)
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("geotransform of %s: %w", path, err)
	}
	if gt[2] != 0 || gt[4] != 0 {
		return nil, fmt.Errorf("raster %s has a rotated geotransform: %w",
			path, domain.ErrBadConfiguration)
	}

	info := &datalayer.Info{
		EPSG:      c.cfg.InternalEPSG,
		Width:     st.SizeX,
		Height:    st.SizeY,
		Bands:     len(bands),
		Transform: gt,
		Band:      band,
	}
	if nd, ok := bands[band-1].NoData(); ok {
		info.NoData = &nd
	}
	return info, nil
}

// Open returns a dataset handle for the layer. Vector layers are rejected:
// zonal statistics are defined over rasters only.
func (c *Catalogue) Open(ctx context.Context, layer *datalayer.DataLayer) (raster.Dataset, error) {
	if layer.Type != datalayer.TypeRaster {
		return nil, fmt.Errorf("datalayer %q is %s, not a raster: %w",
			layer.Name, layer.Type, domain.ErrInvalidInput)
	}
	ds, err := c.open(ctx, layer.URL)
	if err != nil {
		return nil, err
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		_ = ds.Close()
		return nil, domain.PermanentIO(fmt.Errorf("geotransform of %s: %w", layer.URL, err))
	}
	st := ds.Structure()
	bands := ds.Bands()
	bi := layer.Band()
	if bi > len(bands) {
		_ = ds.Close()
		return nil, fmt.Errorf("datalayer %q band %d out of range: %w",
			layer.Name, bi, domain.ErrBadConfiguration)
	}

	nodata := layer.NoDataValue()
	return &dataset{
		cat:       c,
		ds:        ds,
		band:      bands[bi-1],
		layerID:   layer.ID,
		transform: gt,
		width:     st.SizeX,
		height:    st.SizeY,
		nodata:    nodata,
	}, nil
}

// open opens a GDAL dataset with retry on transient failures.
func (c *Catalogue) open(ctx context.Context, url string) (*godal.Dataset, error) {
	path := VSIPath(url)
	var ds *godal.Dataset
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		ds, err = godal.Open(path)
		if err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", url, err)
	}
	return ds, nil
}

func (c *Catalogue) withRetry(ctx context.Context, fn func(context.Context) error) error {
	if c.cfg.MaxRetries <= 0 {
		return fn(ctx)
	}
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(c.cfg.RetryBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && domain.IsTransientIO(err) {
			if c.logger != nil {
				c.logger.Warn("transient raster io failure, retrying",
					"attempt", attempt, "error", err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

// classify wraps a GDAL error as transient or permanent. Missing files and
// unreadable formats never heal; everything else is assumed to be the
// network or the object store having a moment.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"no such file",
		"not recognized as",
		"does not exist",
		"permission denied",
		"access denied",
		"404",
		"403",
	} {
		if strings.Contains(msg, s) {
			return domain.PermanentIO(err)
		}
	}
	return domain.TransientIO(err)
}

// dataset implements raster.Dataset over one godal band.
type dataset struct {
	cat       *Catalogue
	ds        *godal.Dataset
	band      godal.Band
	layerID   int64
	transform [6]float64
	width     int
	height    int
	nodata    float64
}

func (d *dataset) NoData() float64 { return d.nodata }

func (d *dataset) Bounds() *geom.Bounds {
	gt := d.transform
	x0, x1 := gt[0], gt[0]+float64(d.width)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(d.height)*gt[5]
	return &geom.Bounds{
		Min: geom.Point{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: geom.Point{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

func (d *dataset) Close() error {
	return d.ds.Close()
}

// ReadBounds reads the pixel window covering b in one boundless read:
// pixels outside the raster extent are filled with nodata so the caller
// never needs to special-case partial coverage.
func (d *dataset) ReadBounds(ctx context.Context, b *geom.Bounds) (*raster.Grid, error) {
	gt := d.transform
	dx, dy := gt[1], gt[5]

	// Expand the window to whole pixels. dy is negative for north-up
	// rasters, so row 0 maps to the top edge.
	col0 := int(math.Floor((b.Min.X - gt[0]) / dx))
	col1 := int(math.Ceil((b.Max.X - gt[0]) / dx))
	row0 := int(math.Floor((b.Max.Y - gt[3]) / dy))
	row1 := int(math.Ceil((b.Min.Y - gt[3]) / dy))
	if col1 <= col0 {
		col1 = col0 + 1
	}
	if row1 <= row0 {
		row1 = row0 + 1
	}
	ncols, nrows := col1-col0, row1-row0

	key := fmt.Sprintf("%d:%d:%d:%d:%d", d.layerID, col0, row0, ncols, nrows)
	if d.cat.cache != nil {
		if g, ok := d.cat.cache.Get(key); ok {
			return g, nil
		}
	}

	grid := &raster.Grid{
		Data:    sparse.ZerosDense(nrows, ncols),
		OriginX: gt[0] + float64(col0)*dx,
		OriginY: gt[3] + float64(row0)*dy,
		Dx:      dx,
		Dy:      dy,
		NoData:  d.nodata,
	}
	for i := range grid.Data.Elements {
		grid.Data.Elements[i] = d.nodata
	}

	// Clamp the read to the raster extent.
	rc0, rr0 := max(col0, 0), max(row0, 0)
	rc1, rr1 := min(col1, d.width), min(row1, d.height)
	if rc1 > rc0 && rr1 > rr0 {
		w, h := rc1-rc0, rr1-rr0
		buf := make([]float64, w*h)
		err := d.cat.withRetry(ctx, func(ctx context.Context) error {
			if err := d.band.Read(rc0, rr0, buf, w, h); err != nil {
				return classify(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read window %s: %w", key, err)
		}
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				grid.Data.Set(buf[r*w+c], rr0-row0+r, rc0-col0+c)
			}
		}
	}

	if d.cat.cache != nil {
		d.cat.cache.Set(key, grid, int64(nrows*ncols*8))
	}
	return grid, nil
}

var _ raster.Catalogue = (*Catalogue)(nil)
