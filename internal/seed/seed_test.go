package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
	"github.com/linnemanlabs/floodvoice/internal/checkin/memstore"
)

const dataset = `
liaisons:
  - display_name: Ana Ruiz
    org_name: Red Hook Initiative
    telegram_chat_id: "123456"
  - id: liaison-2
    display_name: Wei Chen
residents:
  - name: Maria Lopez
    phone: "7185550100"
    age: 82
    language: es
    health_conditions: [diabetes]
    liaison: ana ruiz
  - id: res-2
    name: John Park
    phone: "+17185550101"
    status: safe
    liaison_id: liaison-2
`

func TestParse(t *testing.T) {
	t.Parallel()

	ds, err := Parse([]byte(dataset))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ds.Liaisons) != 2 || len(ds.Residents) != 2 {
		t.Fatalf("dataset = %+v", ds)
	}

	ana := ds.Liaisons[0]
	if ana.ID == "" || ana.TelegramChatID != "123456" {
		t.Errorf("liaison = %+v", ana)
	}
	maria := ds.Residents[0]
	if maria.LiaisonID != ana.ID {
		t.Errorf("maria liaison = %q, want %q", maria.LiaisonID, ana.ID)
	}
	if maria.Status != checkin.StatusPending || maria.ID == "" {
		t.Errorf("maria = %+v", maria.Resident)
	}
	if ds.Residents[1].ID != "res-2" || ds.Residents[1].Status != checkin.StatusSafe {
		t.Errorf("john = %+v", ds.Residents[1].Resident)
	}

	again, err := Parse([]byte(dataset))
	if err != nil {
		t.Fatal(err)
	}
	if again.Residents[0].ID != maria.ID || again.Liaisons[0].ID != ana.ID {
		t.Error("derived ids are not stable")
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown field", "residents:\n  - name: A\n    shoe_size: 9\n", "shoe_size"},
		{"missing name", "residents:\n  - phone: \"1\"\n", "name is required"},
		{"bad status", "residents:\n  - name: A\n    status: lost\n", "unknown status"},
		{"unknown liaison", "residents:\n  - name: A\n    liaison: Nobody\n", "unknown liaison"},
		{"anonymous liaison", "liaisons:\n  - org_name: X\n", "id or display_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(dataset), 0o600); err != nil {
		t.Fatal(err)
	}
	ds, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	ctx := context.Background()
	s := memstore.New()
	st, err := Load(ctx, s, ds)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Liaisons != 2 || st.Residents != 2 {
		t.Errorf("stats = %+v", st)
	}

	r, ok, err := s.GetResident(ctx, ds.Residents[0].ID)
	if err != nil || !ok {
		t.Fatalf("GetResident = %v, %v", ok, err)
	}
	l, ok, err := s.GetLiaison(ctx, r.LiaisonID)
	if err != nil || !ok || l.DisplayName != "Ana Ruiz" {
		t.Errorf("liaison = %+v, %v, %v", l, ok, err)
	}

	// reseeding updates in place
	if _, err := Load(ctx, s, ds); err != nil {
		t.Fatalf("reload: %v", err)
	}
	list, err := s.ListResidentsForCheckIn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("residents after reseed = %d", len(list))
	}
}

func TestReadFile_Example(t *testing.T) {
	t.Parallel()

	ds, err := ReadFile(filepath.Join("..", "..", "deploy", "seed.example.yaml"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(ds.Liaisons) != 2 || len(ds.Residents) != 3 {
		t.Fatalf("got %d liaisons, %d residents", len(ds.Liaisons), len(ds.Residents))
	}
	for _, r := range ds.Residents {
		if r.ID == "" || r.Status != checkin.StatusPending {
			t.Errorf("resident %q: id=%q status=%q", r.Name, r.ID, r.Status)
		}
	}
	if ds.Residents[2].ID != "res-wei-chen" {
		t.Errorf("explicit id replaced: %q", ds.Residents[2].ID)
	}
	if ds.Residents[0].LiaisonID != ds.Liaisons[0].ID {
		t.Errorf("liaison not resolved: %q", ds.Residents[0].LiaisonID)
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Parallel()

	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
