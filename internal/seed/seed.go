// Package seed loads a YAML dataset of liaisons and residents into a store for
// development and demo setups.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// Dataset is the on-disk seed format.
type Dataset struct {
	Liaisons  []checkin.LiaisonProfile `yaml:"liaisons"`
	Residents []ResidentEntry          `yaml:"residents"`
}

// ResidentEntry is a resident plus an optional liaison reference by display name.
type ResidentEntry struct {
	checkin.Resident `yaml:",inline"`
	Liaison          string `yaml:"liaison"`
}

// Stats reports what Load wrote.
type Stats struct {
	Liaisons  int
	Residents int
}

// namespace derives stable ids for entries without one so reseeding updates
// rows instead of duplicating them.
var namespace = uuid.MustParse("6f1d7c52-3f7e-4f8e-9a44-2f0b8f1c9d11")

// Parse decodes and validates a dataset. Unknown keys are rejected.
func Parse(b []byte) (*Dataset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode seed dataset: %w", err)
	}
	if err := ds.normalize(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// ReadFile parses the dataset at path.
func ReadFile(path string) (*Dataset, error) {
	b, err := os.ReadFile(path) //nolint:gosec // operator-provided seed path
	if err != nil {
		return nil, fmt.Errorf("read seed dataset: %w", err)
	}
	return Parse(b)
}

func (ds *Dataset) normalize() error {
	var errs []error
	byName := make(map[string]string, len(ds.Liaisons))

	for i := range ds.Liaisons {
		l := &ds.Liaisons[i]
		if l.ID == "" {
			if l.DisplayName == "" {
				errs = append(errs, fmt.Errorf("liaisons[%d]: id or display_name is required", i))
				continue
			}
			l.ID = derivedID("liaison", l.DisplayName)
		}
		if l.DisplayName != "" {
			byName[strings.ToLower(l.DisplayName)] = l.ID
		}
	}

	for i := range ds.Residents {
		r := &ds.Residents[i]
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, fmt.Errorf("residents[%d]: name is required", i))
			continue
		}
		if r.ID == "" {
			r.ID = derivedID("resident", r.Name+"|"+r.Phone)
		}
		if r.Status == "" {
			r.Status = checkin.StatusPending
		} else if !r.Status.Valid() {
			errs = append(errs, fmt.Errorf("residents[%d]: unknown status %q", i, r.Status))
		}
		if r.Liaison != "" && r.LiaisonID == "" {
			id, ok := byName[strings.ToLower(r.Liaison)]
			if !ok {
				errs = append(errs, fmt.Errorf("residents[%d]: unknown liaison %q", i, r.Liaison))
				continue
			}
			r.LiaisonID = id
		}
	}
	return errors.Join(errs...)
}

func derivedID(kind, key string) string {
	return uuid.NewSHA1(namespace, []byte(kind+":"+strings.ToLower(strings.TrimSpace(key)))).String()
}

// Load writes the dataset into s, liaisons first.
func Load(ctx context.Context, s checkin.Store, ds *Dataset) (Stats, error) {
	var st Stats
	for i := range ds.Liaisons {
		if err := s.PutLiaison(ctx, &ds.Liaisons[i]); err != nil {
			return st, fmt.Errorf("seed liaison %s: %w", ds.Liaisons[i].ID, err)
		}
		st.Liaisons++
	}
	for i := range ds.Residents {
		r := ds.Residents[i].Resident
		if err := s.PutResident(ctx, &r); err != nil {
			return st, fmt.Errorf("seed resident %s: %w", r.ID, err)
		}
		st.Residents++
	}
	return st, nil
}
