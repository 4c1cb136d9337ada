package node

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-graphviz"
	"github.com/labstack/echo/v4"
	"github.com/lioia/siterank/pkg/graph"
	"github.com/lioia/siterank/pkg/rank"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxGraphSize = 64 << 20

var renderContentTypes = map[graphviz.Format]string{
	graphviz.XDOT: "text/vnd.graphviz",
	graphviz.SVG:  "image/svg+xml",
	graphviz.PNG:  "image/png",
	graphviz.JPG:  "image/jpeg",
}

type httpHandler struct {
	node *Node
}

// Master HTTP API
//
//	POST /rank             graph file body (or ?resource=) -> RankResponse
//	POST /render?format=   graph file body -> ranked graph drawing
//	GET  /health
//	GET  /metrics
func NewHttpServer(n *Node) *echo.Echo {
	h := &httpHandler{node: n}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.POST("/rank", h.rank)
	e.POST("/render", h.render)
	e.GET("/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func (h *httpHandler) rank(c echo.Context) error {
	store, err := h.loadGraph(c)
	if err != nil {
		return err
	}
	report, err := h.computeRank(c, store)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewRankResponse(report))
}

func (h *httpHandler) render(c echo.Context) error {
	store, err := h.loadGraph(c)
	if err != nil {
		return err
	}
	report, err := h.computeRank(c, store)
	if err != nil {
		return err
	}
	format := graphviz.Format(c.QueryParam("format"))
	if format == "" {
		format = graphviz.SVG
	}
	contentType, ok := renderContentTypes[format]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported format "+string(format))
	}
	var buf bytes.Buffer
	if err := graph.Render(&buf, store, report.Ranks, format); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

func (h *httpHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"id":      h.node.Id,
		"role":    RoleToString(h.node.Role),
		"workers": len(h.node.Workers()),
	})
}

// Graph from the request body, or from the resource query parameter when
// given; only http and https resources are fetched, never server paths
func (h *httpHandler) loadGraph(c echo.Context) (*graph.EdgeStore, error) {
	if h.node.Role != Master {
		return nil, echo.NewHTTPError(http.StatusConflict,
			"This node cannot fulfill this request. Contact master node at: "+h.node.Master)
	}
	if resource := c.QueryParam("resource"); resource != "" {
		store, err := graph.LoadRemote(c.Request().Context(), resource)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return store, nil
	}
	store, err := graph.Parse(io.LimitReader(c.Request().Body, maxGraphSize))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return store, nil
}

func (h *httpHandler) computeRank(c echo.Context, store *graph.EdgeStore) (*rank.Report, error) {
	report, err := h.node.Rank(c.Request().Context(), store, "http")
	if errors.Is(err, rank.ErrNotConverged) {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return report, nil
}
