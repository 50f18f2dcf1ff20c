package gateway

import (
	"net/http"
	"time"
)

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.stocks.GetPrice(r.Context(), r.PathValue("ticker"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetNews(w http.ResponseWriter, r *http.Request) {
	articles, err := s.stocks.GetNews(r.Context(), r.PathValue("ticker"), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) handleGetHistorical(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from", time.Now().AddDate(0, -1, 0))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	to, err := queryDate(r, "to", time.Now())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	bars, err := s.stocks.GetHistorical(r.Context(), r.PathValue("ticker"), from, to)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bars": bars})
}

func (s *Server) handleMarketOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.stocks.GetMarketOverview(r.Context())
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func queryDate(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, badRequest(name + " must be formatted YYYY-MM-DD")
	}
	return parsed, nil
}
