package centres

import (
	"fmt"
	"regexp"
	"sort"
)

// Config describes one external centre delivering sample files. The core
// treats these as immutable snapshots; the registry that maintains them
// upstream is an external collaborator.
type Config struct {
	Name         string // unique identity
	Prefix       string // short prefix used in generated barcodes
	DefaultLabID string // substituted when the Lab ID policy is enabled

	// Dir is the centre's subdirectory under both the working root (incoming
	// files) and the backup root (archives).
	Dir string

	// BarcodeField names the column holding the plate barcode and well
	// coordinate; BarcodeRegex extracts them (two capture groups).
	BarcodeField string
	BarcodeRegex *regexp.Regexp

	// FileNamePatterns accept incoming file names; FileNamesToIgnore is the
	// per-centre blacklist checked before any content hashing.
	FileNamePatterns  []*regexp.Regexp
	FileNamesToIgnore []string

	// AddLabID enables the lab-id-default policy: a blank Lab ID cell is
	// replaced with DefaultLabID and the Lab ID header is not required.
	AddLabID bool

	BiomekLabwareClass string
}

// Accepts reports whether a file name matches one of the centre's
// acceptance patterns.
func (c *Config) Accepts(filename string) bool {
	for _, p := range c.FileNamePatterns {
		if p.MatchString(filename) {
			return true
		}
	}
	return false
}

// Ignored reports whether a file name is on the centre's blacklist.
func (c *Config) Ignored(filename string) bool {
	for _, n := range c.FileNamesToIgnore {
		if n == filename {
			return true
		}
	}
	return false
}

// configs holds the built-in centre definitions keyed by name.
var configs = map[string]*Config{
	"alderley": {
		Name:               "Alderley",
		Prefix:             "ALDP",
		DefaultLabID:       "AP",
		Dir:                "ALDP",
		BarcodeField:       "RNA ID",
		BarcodeRegex:       regexp.MustCompile(`^(.*)_([A-H]\d\d?)$`),
		FileNamePatterns:   []*regexp.Regexp{regexp.MustCompile(`^AP_sanger_report_\d{6}_\d{4}.*\.csv$`)},
		BiomekLabwareClass: "Bio-Rad 96 Well Plate 200ul",
	},
	"uk-biocentre": {
		Name:               "UK Biocentre",
		Prefix:             "MK",
		DefaultLabID:       "MK",
		Dir:                "MK",
		BarcodeField:       "RNA ID",
		BarcodeRegex:       regexp.MustCompile(`^(.*)_([A-H]\d\d?)$`),
		FileNamePatterns:   []*regexp.Regexp{regexp.MustCompile(`^MK_sanger_report_\d{6}_\d{4}.*\.csv$`)},
		FileNamesToIgnore:  []string{"MK_sanger_report_200518_2206.csv"},
		AddLabID:           true,
		BiomekLabwareClass: "Bio-Rad 96 Well Plate 200ul",
	},
	"queen-elizabeth": {
		Name:               "Queen Elizabeth University Hospital",
		Prefix:             "QEUH",
		DefaultLabID:       "GLS",
		Dir:                "QEUH",
		BarcodeField:       "RNA ID",
		BarcodeRegex:       regexp.MustCompile(`^(.*)_([A-H]\d\d?)$`),
		FileNamePatterns:   []*regexp.Regexp{regexp.MustCompile(`^GLS_sanger_report_\d{6}_\d{4}.*\.csv$`)},
		AddLabID:           true,
		BiomekLabwareClass: "Bio-Rad 96 Well Plate 200ul",
	},
	"test": {
		Name:               "Test Centre",
		Prefix:             "TEST",
		DefaultLabID:       "TE",
		Dir:                "TEST",
		BarcodeField:       "RNA ID",
		BarcodeRegex:       regexp.MustCompile(`^(.*)_([A-H]\d\d?)$`),
		FileNamePatterns:   []*regexp.Regexp{regexp.MustCompile(`^TEST_sanger_report_\d{6}_\d{4}.*\.csv$`)},
		AddLabID:           true,
		BiomekLabwareClass: "Bio-Rad 96 Well Plate 200ul",
	},
}

// Get retrieves a centre config by key
func Get(key string) (*Config, error) {
	cfg, ok := configs[key]
	if !ok {
		return nil, fmt.Errorf("unknown centre: %s (valid: %v)", key, Keys())
	}
	return cfg, nil
}

// Keys returns all valid centre keys in stable order
func Keys() []string {
	keys := make([]string, 0, len(configs))
	for k := range configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns every centre config in stable key order
func All() []*Config {
	all := make([]*Config, 0, len(configs))
	for _, k := range Keys() {
		all = append(all, configs[k])
	}
	return all
}
