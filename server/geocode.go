package server

import (
	"net/http"
	"strconv"

	"github.com/wolfeidau/doto-cache/geocode"
	"github.com/wolfeidau/doto-cache/telemetry"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "search")

	p := s.geocoder.ResolveAddress(r.Context(), r.URL.Query().Get("q"))
	if p == nil {
		writeError(w, http.StatusNotFound, "no match in region")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "suggest")
	telemetry.SetCacheResult(r, telemetry.CacheBypass)

	writeJSON(w, http.StatusOK, s.geocoder.Suggest(r.Context(), r.URL.Query().Get("q")))
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "reverse")

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}

	res := s.geocoder.ReverseResolve(r.Context(), lat, lon)
	if res == nil {
		// callers display the raw point when nothing is known about it
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no address found",
			"label": geocode.FormatCoordinates(lat, lon),
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type regionResponse struct {
	Location string     `json:"location"`
	InRegion bool       `json:"in_region"`
	Region   string     `json:"region"`
	ViewBox  string     `json:"viewbox"`
	Center   [2]float64 `json:"center"`
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "region")

	location := r.URL.Query().Get("location")
	region := s.geocoder.Region()
	lat, lon := region.Center()

	resp := regionResponse{
		Location: location,
		Region:   region.Name,
		ViewBox:  region.ViewBox(),
		Center:   [2]float64{lat, lon},
	}
	if location != "" {
		resp.InRegion = s.geocoder.InRegion(r.Context(), location)
	}
	writeJSON(w, http.StatusOK, resp)
}
