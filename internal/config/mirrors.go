package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mirror identifies a public HRRR archive host.
type Mirror string

const (
	MirrorGoogle Mirror = "google"
	MirrorAWS    Mirror = "aws"
	MirrorNomads Mirror = "nomads"
)

var mirrorBase = map[Mirror]string{
	MirrorGoogle: "https://storage.googleapis.com/high-resolution-rapid-refresh",
	MirrorAWS:    "https://noaa-hrrr-bdp-pds.s3.amazonaws.com",
	MirrorNomads: "https://nomads.ncep.noaa.gov/pub/data/nccf/com/hrrr/prod",
}

// ValidMirrors lists the supported archive hosts
var ValidMirrors = map[Mirror]bool{
	MirrorGoogle: true,
	MirrorAWS:    true,
	MirrorNomads: true,
}

// ArchiveURL builds the grid file URL for one model run on the
// configured mirror. All mirrors share the hrrr.YYYYMMDD/conus layout.
func (c *Config) ArchiveURL(day time.Time, cycle, forecastHour int) string {
	product := fmt.Sprintf(c.Source.Product, cycle, forecastHour)
	return fmt.Sprintf("%s/hrrr.%s/conus/%s",
		mirrorBase[Mirror(c.Source.Mirror)], day.Format("20060102"), product)
}

// IndexURL builds the sidecar index URL for the same run.
func (c *Config) IndexURL(day time.Time, cycle, forecastHour int) string {
	return c.ArchiveURL(day, cycle, forecastHour) + ".idx"
}

func validMirrorsList() string {
	mirrors := make([]string, 0, len(ValidMirrors))
	for m := range ValidMirrors {
		mirrors = append(mirrors, string(m))
	}
	sort.Strings(mirrors)
	return strings.Join(mirrors, ", ")
}
