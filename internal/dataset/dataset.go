// Package dataset loads the static cauldron network description and the
// courier transport tickets bundled with the binary.
package dataset

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
)

//go:embed data/*.yaml
var bundled embed.FS

const (
	cauldronsFile = "cauldrons.yaml"
	ticketsFile   = "tickets.yaml"
	dateLayout    = "2006-01-02"
)

type Market struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Courier struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Capacity float64 `json:"capacity" yaml:"capacity"`
}

// Dataset is the validated, read-only network description.
type Dataset struct {
	Market    Market                 `json:"market"`
	Couriers  []Courier              `json:"couriers"`
	Cauldrons []telemetry.Descriptor `json:"cauldrons"`
	Tickets   []telemetry.Ticket     `json:"tickets"`

	byID map[string]int
}

type networkFile struct {
	Market    Market                 `yaml:"market"`
	Couriers  []Courier              `yaml:"couriers"`
	Cauldrons []telemetry.Descriptor `yaml:"cauldrons"`
}

type ticketFile struct {
	Tickets []telemetry.Ticket `yaml:"transport_tickets"`
}

// Load returns the dataset embedded in the binary.
func Load() (*Dataset, error) {
	network, err := bundled.ReadFile("data/" + cauldronsFile)
	if err != nil {
		return nil, fmt.Errorf("read bundled cauldrons: %w", err)
	}
	tickets, err := bundled.ReadFile("data/" + ticketsFile)
	if err != nil {
		return nil, fmt.Errorf("read bundled tickets: %w", err)
	}
	return LoadFrom(network, tickets)
}

// Open loads dir when it is set and the bundled dataset otherwise.
func Open(dir string) (*Dataset, error) {
	if dir == "" {
		return Load()
	}
	return LoadDir(dir)
}

// LoadDir reads cauldrons.yaml and tickets.yaml from dir.
func LoadDir(dir string) (*Dataset, error) {
	network, err := os.ReadFile(filepath.Join(dir, cauldronsFile))
	if err != nil {
		return nil, fmt.Errorf("read cauldrons: %w", err)
	}
	tickets, err := os.ReadFile(filepath.Join(dir, ticketsFile))
	if err != nil {
		return nil, fmt.Errorf("read tickets: %w", err)
	}
	return LoadFrom(network, tickets)
}

// LoadFrom decodes and validates raw YAML documents.
func LoadFrom(cauldronsYAML, ticketsYAML []byte) (*Dataset, error) {
	var nf networkFile
	if err := yaml.Unmarshal(cauldronsYAML, &nf); err != nil {
		return nil, fmt.Errorf("parse cauldrons: %w", err)
	}
	var tf ticketFile
	if err := yaml.Unmarshal(ticketsYAML, &tf); err != nil {
		return nil, fmt.Errorf("parse tickets: %w", err)
	}

	ds := &Dataset{
		Market:    nf.Market,
		Couriers:  nf.Couriers,
		Cauldrons: nf.Cauldrons,
		Tickets:   tf.Tickets,
		byID:      make(map[string]int, len(nf.Cauldrons)),
	}
	if err := ds.validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (d *Dataset) validate() error {
	if len(d.Cauldrons) == 0 {
		return fmt.Errorf("dataset has no cauldrons")
	}
	for i, c := range d.Cauldrons {
		if c.ID == "" {
			return fmt.Errorf("cauldron %d: missing id", i)
		}
		if _, dup := d.byID[c.ID]; dup {
			return fmt.Errorf("cauldron %s: duplicate id", c.ID)
		}
		if c.MaxVolume <= 0 {
			return fmt.Errorf("cauldron %s: max volume must be positive, got %v", c.ID, c.MaxVolume)
		}
		d.byID[c.ID] = i
	}
	for _, t := range d.Tickets {
		if _, ok := d.byID[t.CauldronID]; !ok {
			return fmt.Errorf("ticket %s: unknown cauldron %q", t.ID, t.CauldronID)
		}
		if _, err := time.Parse(dateLayout, t.Date); err != nil {
			return fmt.Errorf("ticket %s: invalid date %q: %w", t.ID, t.Date, err)
		}
	}
	return nil
}

// Cauldron looks up a descriptor by id.
func (d *Dataset) Cauldron(id string) (telemetry.Descriptor, bool) {
	i, ok := d.byID[id]
	if !ok {
		return telemetry.Descriptor{}, false
	}
	return d.Cauldrons[i], true
}

// CourierName returns the display name for a courier id, or the id itself.
func (d *Dataset) CourierName(id string) string {
	for _, c := range d.Couriers {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}
