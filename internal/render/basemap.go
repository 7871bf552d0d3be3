package render

import (
	"fmt"
	"regexp"
	"strings"
)

// BaseLayer is a slippy-map tile source. Overlay layers are drawn above the
// selected base layer and can be toggled independently.
type BaseLayer struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
	Subdomains  string `json:"subdomains,omitempty"`
	Overlay     bool   `json:"overlay"`
}

const tiandituAttribution = "天地图 © 国家地理信息公共服务平台 GS(2019)1719号"

var tiandituKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// FallbackLayer is used whenever the primary layer cannot be built or fails to load tiles.
var FallbackLayer = BaseLayer{
	Name:        "CartoDB Positron",
	URL:         "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
	Attribution: "© OpenStreetMap contributors © CARTO",
	Subdomains:  "abcd",
}

var (
	cartoDark = BaseLayer{
		Name:        "CartoDB Dark",
		URL:         "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}{r}.png",
		Attribution: "© OpenStreetMap contributors © CARTO",
		Subdomains:  "abcd",
	}
	openStreetMap = BaseLayer{
		Name:        "OpenStreetMap",
		URL:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
	}
)

func tiandituLayer(name, layer, key string, overlay bool) BaseLayer {
	return BaseLayer{
		Name: name,
		URL: fmt.Sprintf("https://t{s}.tianditu.gov.cn/%[1]s_w/wmts?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0"+
			"&LAYER=%[1]s&STYLE=default&TILEMATRIXSET=w&FORMAT=tiles&TILEMATRIX={z}&TILEROW={y}&TILECOL={x}&tk=%[2]s",
			layer, key),
		Attribution: tiandituAttribution,
		Subdomains:  "01234567",
		Overlay:     overlay,
	}
}

func mapboxLayer(token string) BaseLayer {
	return BaseLayer{
		Name:        "Mapbox Streets",
		URL:         "https://api.mapbox.com/styles/v1/mapbox/streets-v12/tiles/{z}/{x}/{y}?access_token=" + token,
		Attribution: "© Mapbox © OpenStreetMap contributors",
	}
}

// BaseLayers returns the layer list with the primary base layer first. A
// Tianditu key selects the Tianditu vector map as primary together with the
// imagery and terrain maps and their annotation overlays; otherwise
// OpenStreetMap is primary. A malformed key falls back to CartoDB Positron
// and is reported as a warning.
func BaseLayers(tiandituKey, mapboxToken string) (layers []BaseLayer, warning string) {
	key := strings.TrimSpace(tiandituKey)
	switch {
	case key == "":
		layers = []BaseLayer{openStreetMap, FallbackLayer, cartoDark}
	case !tiandituKeyPattern.MatchString(key):
		warning = "天地图密钥格式无效，已改用 CartoDB Positron 底图"
		layers = []BaseLayer{FallbackLayer, cartoDark, openStreetMap}
	default:
		layers = []BaseLayer{
			tiandituLayer("天地图矢量图", "vec", key, false),
			FallbackLayer,
			cartoDark,
			tiandituLayer("天地图影像图", "img", key, false),
			tiandituLayer("天地图地形图", "ter", key, false),
			tiandituLayer("天地图矢量注记", "cva", key, true),
			tiandituLayer("天地图影像注记", "cia", key, true),
			tiandituLayer("天地图地形注记", "cta", key, true),
		}
	}
	if mapboxToken != "" {
		layers = append(layers, mapboxLayer(mapboxToken))
	}
	return layers, warning
}
