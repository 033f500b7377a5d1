// Package seeddata is the manifest cmd/seed writes and cmd/simulate reads.
package seeddata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

type Person struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Token string    `json:"token,omitempty"` // empty when the API trusts X-User-ID
}

type Manifest struct {
	Doctors  []Person `json:"doctors"`
	Patients []Person `json:"patients"`
	Dates    []string `json:"dates"`
}

func Write(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func Read(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Doctors) == 0 || len(m.Patients) == 0 || len(m.Dates) == 0 {
		return m, fmt.Errorf("manifest %s has no doctors, patients or dates", path)
	}
	return m, nil
}
