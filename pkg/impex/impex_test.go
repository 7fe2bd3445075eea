package impex

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mnohosten/shelfdb/pkg/document"
)

func sampleBooks() []*document.Document {
	oid, _ := document.ObjectIDFromHex("65a1b2c3d4e5f60718293a4b")
	first := document.NewDocument()
	first.Set("_id", oid)
	first.Set("title", "Dune")
	first.Set("published_year", int64(1965))
	first.Set("price", 9.99)
	first.Set("in_stock", true)
	first.SetPath("meta.pages", int64(412))

	second := document.NewDocument()
	second.Set("_id", "circe")
	second.Set("title", "Circe")
	second.Set("tags", []interface{}{"myth", "greek"})
	second.Set("price", nil)
	second.Set("added", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return []*document.Document{first, second}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"NDJSON", FormatNDJSON, false},
		{"jsonl", FormatNDJSON, false},
		{"csv", FormatCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if f, err := FormatFromPath("/tmp/books.ndjson"); err != nil || f != FormatNDJSON {
		t.Errorf("Expected ndjson from extension, got %q (%v)", f, err)
	}
	if _, err := FormatFromPath("books"); err == nil {
		t.Error("Expected an error without an extension")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatNDJSON} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Export(&buf, sampleBooks(), format, &Options{Pretty: true}); err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			docs, err := Import(&buf, format, nil)
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			want := sampleBooks()
			if len(docs) != len(want) {
				t.Fatalf("Expected %d documents, got %d", len(want), len(docs))
			}
			for i := range want {
				if !docs[i].Equal(want[i]) {
					t.Errorf("Document %d: expected %s, got %s", i, want[i], docs[i])
				}
				if strings.Join(docs[i].Keys(), ",") != strings.Join(want[i].Keys(), ",") {
					t.Errorf("Expected field order %v, got %v", want[i].Keys(), docs[i].Keys())
				}
			}
		})
	}
}

func TestWriteNDJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, sampleBooks()[:1]); err != nil {
		t.Fatalf("WriteNDJSON failed: %v", err)
	}
	want := `{"_id":{"$oid":"65a1b2c3d4e5f60718293a4b"},"title":"Dune","published_year":1965,"price":9.99,"in_stock":true,"meta":{"pages":412}}` + "\n"
	if buf.String() != want {
		t.Errorf("Expected %s, got %s", want, buf.String())
	}
}

func TestReadJSONErrors(t *testing.T) {
	tests := map[string]string{
		"not an array":      `{"title": "Dune"}`,
		"non-object member": `[{"title": "Dune"}, 42]`,
		"malformed":         `[{"title": }]`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadJSON(strings.NewReader(input)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestReadNDJSON(t *testing.T) {
	input := "{\"title\":\"Dune\"}\n\n  {\"title\":\"Circe\",\"year\":2018}\n"
	docs, err := ReadNDJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadNDJSON failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if v, _ := docs[1].Get("year"); v != int64(2018) {
		t.Errorf("Expected int64 2018, got %T %v", v, v)
	}

	_, err = ReadNDJSON(strings.NewReader("{\"title\":\"Dune\"}\n[1]\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected a line 2 error, got %v", err)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Run("discovered fields", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, sampleBooks(), nil); err != nil {
			t.Fatalf("WriteCSV failed: %v", err)
		}
		want := "_id,title,published_year,price,in_stock,meta,tags,added\n" +
			`65a1b2c3d4e5f60718293a4b,Dune,1965,9.99,true,"{""pages"":412}",,` + "\n" +
			`circe,Circe,,,,,"[""myth"",""greek""]",2024-03-01T12:00:00Z` + "\n"
		if buf.String() != want {
			t.Errorf("Expected\n%s\ngot\n%s", want, buf.String())
		}
	})

	t.Run("dot path fields", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Export(&buf, sampleBooks(), FormatCSV, &Options{Fields: []string{"title", "meta.pages"}}); err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		want := "title,meta.pages\nDune,412\nCirce,\n"
		if buf.String() != want {
			t.Errorf("Expected %q, got %q", want, buf.String())
		}
	})

	t.Run("no documents", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, nil, nil); err != nil || buf.Len() != 0 {
			t.Errorf("Expected no output, got %q (%v)", buf.String(), err)
		}
	})
}

func TestReadCSV(t *testing.T) {
	input := "_id,title,published_year,price,in_stock,meta.pages,tags,added\n" +
		"65a1b2c3d4e5f60718293a4b,Dune,1965,9.99,true,412,,\n" +
		`circe,Circe,,,,,"[""myth"",""greek""]",2024-03-01T12:00:00Z` + "\n"
	docs, err := ReadCSV(strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}

	dune := docs[0]
	checks := []struct {
		doc  *document.Document
		path string
		want interface{}
	}{
		{dune, "title", "Dune"},
		{dune, "published_year", int64(1965)},
		{dune, "price", 9.99},
		{dune, "in_stock", true},
		{dune, "meta.pages", int64(412)},
		{docs[1], "_id", "circe"},
	}
	for _, c := range checks {
		got, ok := c.doc.GetPath(c.path)
		if !ok || !document.Equal(got, c.want) {
			t.Errorf("%s: expected %v, got %v", c.path, c.want, got)
		}
	}
	if id, _ := dune.ID(); document.TypeOf(id) != document.TypeObjectID {
		t.Errorf("Expected an ObjectID _id, got %T", id)
	}
	if docs[1].Has("price") {
		t.Error("Expected empty cells to be left out")
	}
	if tags, _ := docs[1].Get("tags"); len(tags.([]interface{})) != 2 {
		t.Errorf("Expected a decoded tag array, got %v", tags)
	}
	if added, _ := docs[1].Get("added"); !added.(time.Time).Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected a timestamp, got %v", added)
	}
}

func TestReadCSVHeadersAndErrors(t *testing.T) {
	docs, err := Import(strings.NewReader("Dune,1965\nCirce,2018\n"), FormatCSV, &Options{Headers: []string{"title", "year"}})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if v, _ := docs[1].Get("year"); v != int64(2018) {
		t.Errorf("Expected 2018, got %v", v)
	}

	if _, err := ReadCSV(strings.NewReader("title\nDune,extra\n"), nil); err == nil {
		t.Error("Expected an error for a row wider than the header")
	}
	if _, err := ReadCSV(strings.NewReader("title,\nDune,x\n"), nil); err == nil {
		t.Error("Expected an error for an unnamed column")
	}
	if docs, err := ReadCSV(strings.NewReader(""), nil); err != nil || len(docs) != 0 {
		t.Errorf("Expected no documents from empty input, got %v (%v)", docs, err)
	}
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		cell string
		want interface{}
	}{
		{"true", true},
		{"42", int64(42)},
		{"-1.5", -1.5},
		{"NaN", "NaN"},
		{"Inf", "Inf"},
		{"Le Guin", "Le Guin"},
		{"[1, 2]", []interface{}{int64(1), int64(2)}},
		{"{not json", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			if got := parseCell(tt.cell); !document.Equal(got, tt.want) {
				t.Errorf("Expected %v (%T), got %v (%T)", tt.want, tt.want, got, got)
			}
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := Import(strings.NewReader(""), "xml", nil); err == nil {
		t.Error("Expected import to reject xml")
	}
	if err := Export(&bytes.Buffer{}, nil, "xml", nil); err == nil {
		t.Error("Expected export to reject xml")
	}
}
