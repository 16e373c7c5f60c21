package services

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Weather map layers served by the tile provider
var mapLayers = map[string]bool{
	"clouds_new":        true,
	"precipitation_new": true,
	"pressure_new":      true,
	"wind_new":          true,
	"temp_new":          true,
}

// ErrUnknownLayer is returned for map layers the tile provider does not serve
var ErrUnknownLayer = errors.New("unknown map layer")

// MapsService builds tile and static map URLs. Rendering is left to the
// caller.
type MapsService struct {
	apiKey    string
	tileURL   string
	staticURL string
}

// NewMapsService creates a MapsService
func NewMapsService(apiKey, tileURL, staticURL string) *MapsService {
	return &MapsService{
		apiKey:    apiKey,
		tileURL:   strings.TrimRight(tileURL, "/"),
		staticURL: staticURL,
	}
}

// Layers returns the supported weather layers
func (m *MapsService) Layers() []string {
	return []string{"clouds_new", "precipitation_new", "pressure_new", "temp_new", "wind_new"}
}

// TileURL returns the URL of one weather overlay tile
func (m *MapsService) TileURL(layer string, zoom, x, y int) (string, error) {
	if !mapLayers[layer] {
		return "", fmt.Errorf("%w: %s", ErrUnknownLayer, layer)
	}
	if zoom < 0 || zoom > 18 {
		return "", fmt.Errorf("zoom %d out of range 0..18", zoom)
	}
	tiles := 1 << zoom
	if x < 0 || y < 0 || x >= tiles || y >= tiles {
		return "", fmt.Errorf("tile %d/%d out of range for zoom %d", x, y, zoom)
	}
	return fmt.Sprintf("%s/%s/%d/%d/%d.png?appid=%s",
		m.tileURL, layer, zoom, x, y, url.QueryEscape(m.apiKey)), nil
}

// StaticMapURL returns a static map image centered on a location
func (m *MapsService) StaticMapURL(lat, lon float64, zoom, width, height int) (string, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("coordinates %f,%f out of range", lat, lon)
	}
	if width <= 0 || height <= 0 {
		return "", errors.New("map size must be positive")
	}

	u, err := url.Parse(m.staticURL)
	if err != nil {
		return "", fmt.Errorf("invalid static map url: %w", err)
	}
	center := strconv.FormatFloat(lon, 'f', 4, 64) + "," + strconv.FormatFloat(lat, 'f', 4, 64)
	q := u.Query()
	q.Set("style", "osm-carto")
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("center", "lonlat:"+center)
	q.Set("zoom", strconv.Itoa(zoom))
	q.Set("marker", "lonlat:"+center+";color:#ff0000")
	q.Set("apiKey", m.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
