package api

import (
	"net/http"

	"github.com/signalsfoundry/roadgraph/internal/graph"
	"github.com/signalsfoundry/roadgraph/internal/places"
	"github.com/signalsfoundry/roadgraph/model"
)

// unboundedNodeSample is how many nodes /api/nodes returns when no bounds
// are given.
const unboundedNodeSample = 500

type nodesResponse struct {
	Nodes    []model.Node  `json:"nodes"`
	Total    int           `json:"total"`
	InBounds int           `json:"inBounds,omitempty"`
	Bounds   *model.Bounds `json:"bounds,omitempty"`
	Sampled  bool          `json:"sampled,omitempty"`
	Loading  bool          `json:"loading,omitempty"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bounds, hasBounds, err := parseBounds(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q, "limit", graph.DefaultNodeLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ds, loading := s.published()
	if loading {
		writeJSON(w, http.StatusOK, nodesResponse{Nodes: []model.Node{}, Loading: true})
		return
	}
	if !hasBounds {
		nodes := ds.Nodes.Head(unboundedNodeSample)
		writeJSON(w, http.StatusOK, nodesResponse{
			Nodes:   nodes,
			Total:   int(ds.Nodes.Count()),
			Sampled: true,
		})
		return
	}

	nodes := ds.Nodes.QueryBBox(bounds, limit, 0)
	writeJSON(w, http.StatusOK, nodesResponse{
		Nodes:    nodes,
		Total:    int(ds.Nodes.Count()),
		InBounds: len(nodes),
		Bounds:   &bounds,
	})
}

type statsResponse struct {
	model.Stats
	Loading bool `json:"loading,omitempty"`
}

type loadingStatsResponse struct {
	Count   int  `json:"count"`
	Loading bool `json:"loading"`
}

func (s *Server) handleNodeStats(w http.ResponseWriter, r *http.Request) {
	ds, loading := s.published()
	if loading {
		writeJSON(w, http.StatusOK, loadingStatsResponse{Loading: true})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: ds.Nodes.Stats()})
}

type edgesResponse struct {
	Edges   []model.Edge `json:"edges"`
	Total   int          `json:"total"`
	Loading bool         `json:"loading,omitempty"`
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bounds, hasBounds, err := parseBounds(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q, "limit", graph.DefaultEdgeLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ds, loading := s.published()
	switch {
	case loading:
		writeJSON(w, http.StatusOK, edgesResponse{Edges: []model.Edge{}, Loading: true})
	case !hasBounds:
		writeJSON(w, http.StatusOK, edgesResponse{Edges: []model.Edge{}})
	default:
		edges := ds.Edges.QueryBBoxEdges(bounds, limit)
		writeJSON(w, http.StatusOK, edgesResponse{Edges: edges, Total: len(edges)})
	}
}

type searchResponse struct {
	places.SearchResult
	Loading bool `json:"loading,omitempty"`
}

func (s *Server) handlePlaceSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", places.DefaultSearchLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ds, loading := s.published()
	if loading {
		writeJSON(w, http.StatusOK, searchResponse{
			SearchResult: places.SearchResult{Places: []model.Place{}, Offset: offset},
			Loading:      true,
		})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{SearchResult: ds.Places.Search(q.Get("q"), limit, offset)})
}

type placeNodeResponse struct {
	Place  model.Place `json:"place"`
	NodeID int32       `json:"nodeId"`
}

func (s *Server) handlePlaceNode(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := parseID(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ds, loading := s.published()
	if loading {
		s.writeError(w, r, ErrLoading)
		return
	}
	place, ok := ds.Places.Get(id)
	if !ok {
		s.writeError(w, r, errNotFound("place %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, placeNodeResponse{Place: place, NodeID: place.NodeID})
}
