package graph

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Output format from the file extension (dot when unknown)
func FormatFromPath(path string) graphviz.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return graphviz.SVG
	case ".png":
		return graphviz.PNG
	case ".jpg", ".jpeg":
		return graphviz.JPG
	}
	return graphviz.XDOT
}

// Render draws every site labelled with its rank and every edge labelled with
// its transition weight. ranks may be nil
func Render(w io.Writer, store *EdgeStore, ranks []float64, format graphviz.Format) error {
	if ranks != nil && len(ranks) != store.Registry().Len() {
		return fmt.Errorf("rank vector has %d entries for %d sites", len(ranks), store.Registry().Len())
	}
	g := graphviz.New()
	defer g.Close()
	drawing, err := g.Graph()
	if err != nil {
		return err
	}
	defer drawing.Close()

	registry := store.Registry()
	nodes := make([]*cgraph.Node, registry.Len())
	for id := 0; id < registry.Len(); id++ {
		node, err := drawing.CreateNode(fmt.Sprintf("site%d", id))
		if err != nil {
			return err
		}
		label := registry.Label(int32(id))
		if ranks != nil {
			label = fmt.Sprintf("%s\n%.6g", label, ranks[id])
		}
		node.SetLabel(label)
		nodes[id] = node
	}
	for i, e := range store.Edges() {
		edge, err := drawing.CreateEdge(fmt.Sprintf("edge%d", i), nodes[e.From], nodes[e.To])
		if err != nil {
			return err
		}
		edge.SetLabel(fmt.Sprintf("%.3g", store.Weight(e)))
	}
	return g.Render(drawing, format, w)
}

func RenderFile(path string, store *EdgeStore, ranks []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return Render(file, store, ranks, FormatFromPath(path))
}
