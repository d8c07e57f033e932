package table

import (
	"reflect"
	"testing"
)

func TestProject(t *testing.T) {
	src := Table{
		Columns: []string{"track_id", "track_name", "track_album_id", "extra"},
		Rows: []Row{
			{"track_id": "t1", "track_name": "Song One", "track_album_id": "a1", "extra": "x"},
			{"track_id": "t2", "track_name": "Song Two"},
		},
	}

	got := src.Project(
		[]string{"track_id", "track_name", "track_album_id"},
		map[string]string{"track_album_id": "album_id"},
	)

	wantColumns := []string{"track_id", "track_name", "album_id"}
	if !reflect.DeepEqual(got.Columns, wantColumns) {
		t.Errorf("Columns = %v, want %v", got.Columns, wantColumns)
	}

	if got.Rows[0]["album_id"] != "a1" {
		t.Errorf("row 0 album_id = %v, want a1", got.Rows[0]["album_id"])
	}

	// Missing source cells project to explicit nulls.
	if v, ok := got.Rows[1]["album_id"]; !ok || v != nil {
		t.Errorf("row 1 album_id = %v (present=%t), want nil", v, ok)
	}

	// The projection drops undeclared columns.
	if got.HasColumn("extra") {
		t.Error("projection kept undeclared column extra")
	}
}

func TestProject_EmptyTable(t *testing.T) {
	var src Table
	got := src.Project([]string{"id"}, nil)

	if !got.Empty() {
		t.Error("projecting an empty table should stay empty")
	}
	if !reflect.DeepEqual(got.Columns, []string{"id"}) {
		t.Errorf("Columns = %v, want [id]", got.Columns)
	}
}

func TestDistinctValues(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		want []string
	}{
		{
			name: "duplicates collapse in first-seen order",
			rows: []Row{
				{"album_id": "a2"},
				{"album_id": "a1"},
				{"album_id": "a2"},
			},
			want: []string{"a2", "a1"},
		},
		{
			name: "nil and empty cells skipped",
			rows: []Row{
				{"album_id": nil},
				{"album_id": ""},
				{"album_id": "a1"},
				{},
			},
			want: []string{"a1"},
		},
		{
			name: "no rows",
			rows: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := Table{Columns: []string{"album_id"}, Rows: tt.rows}
			got := tbl.DistinctValues("album_id")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DistinctValues() = %v, want %v", got, tt.want)
			}
		})
	}
}
