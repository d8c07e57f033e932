package table

import (
	"reflect"
	"testing"
)

func TestFlatten_NestedMaps(t *testing.T) {
	records := []Record{
		{
			"played_at": "2026-08-30T21:04:00Z",
			"track": map[string]any{
				"id":   "t1",
				"name": "Song One",
				"album": map[string]any{
					"id":   "a1",
					"name": "Album One",
				},
			},
		},
	}

	got := Flatten(records)

	wantColumns := []string{
		"played_at",
		"track_album_id",
		"track_album_name",
		"track_id",
		"track_name",
	}
	if !reflect.DeepEqual(got.Columns, wantColumns) {
		t.Errorf("Columns = %v, want %v", got.Columns, wantColumns)
	}

	if len(got.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(got.Rows))
	}

	row := got.Rows[0]
	if row["track_album_id"] != "a1" {
		t.Errorf("track_album_id = %v, want a1", row["track_album_id"])
	}
	if row["track_name"] != "Song One" {
		t.Errorf("track_name = %v, want Song One", row["track_name"])
	}
}

func TestFlatten_ResidualListsSerializedAsJSON(t *testing.T) {
	records := []Record{
		{
			"id": "t1",
			"artists": []any{
				map[string]any{"id": "ar1", "name": "Artist One"},
			},
		},
	}

	got := Flatten(records)

	want := `[{"id":"ar1","name":"Artist One"}]`
	if got.Rows[0]["artists"] != want {
		t.Errorf("artists = %v, want %s", got.Rows[0]["artists"], want)
	}
}

func TestFlatten_EmptyInput(t *testing.T) {
	got := Flatten(nil)

	if !got.Empty() {
		t.Errorf("Flatten(nil).Empty() = false, want true")
	}
	if len(got.Columns) != 0 {
		t.Errorf("Columns = %v, want none", got.Columns)
	}

	got = Flatten([]Record{})
	if !got.Empty() {
		t.Errorf("Flatten([]).Empty() = false, want true")
	}
}

func TestFlatten_IdempotentOnFlatInput(t *testing.T) {
	records := []Record{
		{"id": "t1", "name": "Song One", "popularity": float64(63)},
		{"id": "t2", "name": "Song Two", "popularity": float64(40)},
	}

	first := Flatten(records)

	// Re-flatten the already-flat rows: column set and values must be equal.
	again := make([]Record, len(first.Rows))
	for i, row := range first.Rows {
		again[i] = Record(row)
	}
	second := Flatten(again)

	if !reflect.DeepEqual(first.Columns, second.Columns) {
		t.Errorf("Columns changed on re-flatten: %v vs %v", first.Columns, second.Columns)
	}
	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Errorf("Rows changed on re-flatten: %v vs %v", first.Rows, second.Rows)
	}
}

func TestFlatten_SparseUnion(t *testing.T) {
	records := []Record{
		{"id": "t1", "name": "Song One"},
		{"id": "t2", "preview_url": "https://example.com/p.mp3"},
	}

	got := Flatten(records)

	wantColumns := []string{"id", "name", "preview_url"}
	if !reflect.DeepEqual(got.Columns, wantColumns) {
		t.Errorf("Columns = %v, want %v", got.Columns, wantColumns)
	}

	// Rows are sparse: the missing cell is simply absent.
	if _, ok := got.Rows[0]["preview_url"]; ok {
		t.Error("row 0 should not carry preview_url")
	}
	if _, ok := got.Rows[1]["name"]; ok {
		t.Error("row 1 should not carry name")
	}
}

func TestCellString(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	tests := []struct {
		name string
		in   any
		want *string
	}{
		{"nil stays null", nil, nil},
		{"string", "hello", strPtr("hello")},
		{"bool", true, strPtr("true")},
		{"integral float", float64(180000), strPtr("180000")},
		{"fractional float", 0.5, strPtr("0.5")},
		{"int", 42, strPtr("42")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CellString(tt.in)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("CellString(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("CellString(%v) = %q, want %q", tt.in, *got, *tt.want)
			}
		})
	}
}
