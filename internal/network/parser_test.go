package network

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const (
	nodesCSV = "world,node_id,kind,station,platform,conflicts\n" +
		"w1,A,station,Alpha,1,\n" +
		"w1,J,switch,,,switcher:J;single:J-B\n" +
		"w1,B,station,Beta,2,\n" +
		"w2,X,main,,,\n"
	edgesCSV = "world,node_a,node_b,length_m,speed_limit,blocked,bidirectional\n" +
		"w1,A,J,100,20,,\n" +
		"w1,J,B,250,,false,0\n"
	routesCSV = "route_id,operator,line,service,display_name,waypoints\n" +
		"R1-north,rodalies,R1,north,Beta,A;J;B\n"
)

func TestParseBundle(t *testing.T) {
	b, err := ParseBytes(buildZip(t, map[string]string{
		"bundle/nodes.csv":  nodesCSV,
		"bundle/edges.csv":  edgesCSV,
		"bundle/routes.csv": routesCSV,
	}))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	if len(b.Worlds) != 2 {
		t.Fatalf("worlds = %v", b.WorldNames())
	}
	w1 := b.Worlds["w1"]
	if len(w1.Nodes) != 3 || len(w1.Edges) != 2 {
		t.Fatalf("w1 has %d nodes, %d edges", len(w1.Nodes), len(w1.Edges))
	}
	if got := w1.Nodes[1].Conflicts; len(got) != 2 || got[1] != "single:J-B" {
		t.Errorf("conflicts = %v", got)
	}
	aj, jb := w1.Edges[0], w1.Edges[1]
	if aj.SpeedLimit == nil || *aj.SpeedLimit != 20 || !aj.Bidirectional || aj.Blocked {
		t.Errorf("A-J = %+v", aj)
	}
	if jb.SpeedLimit != nil || jb.Bidirectional {
		t.Errorf("J-B = %+v", jb)
	}

	if len(b.Routes) != 1 || len(b.Routes[0].Waypoints) != 3 || b.Routes[0].Meta.Line != "R1" {
		t.Fatalf("routes = %+v", b.Routes)
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.zip")
	data := buildZip(t, map[string]string{
		"nodes.csv": "node_id,kind\nA,\nB,depot\n",
		"edges.csv": "node_a,node_b,length_m\nA,B,50\n",
	})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	b, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	w, ok := b.Worlds[DefaultWorld]
	if !ok {
		t.Fatalf("missing default world: %v", b.WorldNames())
	}
	if w.Nodes[0].Kind != "main" || w.Nodes[1].Kind != "depot" {
		t.Errorf("kinds = %s, %s", w.Nodes[0].Kind, w.Nodes[1].Kind)
	}
	if !w.Edges[0].Bidirectional {
		t.Error("edges default to bidirectional")
	}
	if len(b.Routes) != 0 {
		t.Errorf("routes = %+v", b.Routes)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"missing edges", map[string]string{"nodes.csv": nodesCSV}},
		{"bad length", map[string]string{"nodes.csv": nodesCSV, "edges.csv": "node_a,node_b,length_m\nA,J,far\n"}},
		{"empty node id", map[string]string{"nodes.csv": "node_id\n\n,x\n", "edges.csv": edgesCSV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBytes(buildZip(t, tt.files)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := ParseBytes(buildZip(t, map[string]string{"edges.csv": edgesCSV}))
	if !errors.Is(err, ErrMissingFile) {
		t.Errorf("err = %v, want ErrMissingFile", err)
	}
}

func TestValidateRejectsUnknownWaypoint(t *testing.T) {
	b, err := ParseBytes(buildZip(t, map[string]string{
		"nodes.csv":  nodesCSV,
		"edges.csv":  edgesCSV,
		"routes.csv": "route_id,waypoints\nR9,A;Z\n",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Validate(); err == nil {
		t.Error("expected unknown node error")
	}
}
