package timewindow

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zone data for minimal container images
)

const (
	zoneEastern  = "America/New_York"
	zoneCentral  = "America/Chicago"
	zoneMountain = "America/Denver"
	zonePhoenix  = "America/Phoenix"
	zonePacific  = "America/Los_Angeles"
	zoneAlaska   = "America/Anchorage"
	zoneHawaii   = "Pacific/Honolulu"
)

// defaultAreaCodes covers the larger US metros. It is deliberately partial;
// operators extend or override it through configuration.
var defaultAreaCodes = map[string]string{
	// Pacific
	"206": zonePacific, "209": zonePacific, "213": zonePacific, "253": zonePacific,
	"310": zonePacific, "323": zonePacific, "360": zonePacific, "408": zonePacific,
	"415": zonePacific, "424": zonePacific, "425": zonePacific, "503": zonePacific,
	"510": zonePacific, "530": zonePacific, "541": zonePacific, "559": zonePacific,
	"562": zonePacific, "619": zonePacific, "626": zonePacific, "628": zonePacific,
	"650": zonePacific, "661": zonePacific, "702": zonePacific, "707": zonePacific,
	"714": zonePacific, "725": zonePacific, "760": zonePacific, "775": zonePacific,
	"805": zonePacific, "818": zonePacific, "831": zonePacific, "858": zonePacific,
	"909": zonePacific, "916": zonePacific, "925": zonePacific, "949": zonePacific,
	"951": zonePacific, "971": zonePacific,
	// Mountain
	"303": zoneMountain, "307": zoneMountain, "385": zoneMountain, "406": zoneMountain,
	"435": zoneMountain, "505": zoneMountain, "575": zoneMountain, "719": zoneMountain,
	"720": zoneMountain, "801": zoneMountain, "970": zoneMountain, "208": zoneMountain,
	// Arizona does not observe DST
	"480": zonePhoenix, "520": zonePhoenix, "602": zonePhoenix, "623": zonePhoenix, "928": zonePhoenix,
	// Central
	"205": zoneCentral, "210": zoneCentral, "214": zoneCentral, "217": zoneCentral,
	"224": zoneCentral, "225": zoneCentral, "262": zoneCentral, "281": zoneCentral,
	"312": zoneCentral, "314": zoneCentral, "316": zoneCentral, "318": zoneCentral,
	"319": zoneCentral, "402": zoneCentral, "405": zoneCentral, "414": zoneCentral,
	"469": zoneCentral, "479": zoneCentral, "501": zoneCentral, "504": zoneCentral,
	"512": zoneCentral, "515": zoneCentral, "601": zoneCentral, "608": zoneCentral,
	"612": zoneCentral, "615": zoneCentral, "629": zoneCentral, "630": zoneCentral,
	"651": zoneCentral, "708": zoneCentral, "713": zoneCentral, "737": zoneCentral,
	"763": zoneCentral, "773": zoneCentral, "815": zoneCentral, "816": zoneCentral,
	"817": zoneCentral, "832": zoneCentral, "847": zoneCentral, "872": zoneCentral,
	"901": zoneCentral, "913": zoneCentral, "918": zoneCentral, "952": zoneCentral,
	"972": zoneCentral,
	// Eastern
	"201": zoneEastern, "202": zoneEastern, "212": zoneEastern, "215": zoneEastern,
	"216": zoneEastern, "248": zoneEastern, "267": zoneEastern, "305": zoneEastern,
	"313": zoneEastern, "317": zoneEastern, "321": zoneEastern, "347": zoneEastern,
	"404": zoneEastern, "407": zoneEastern, "410": zoneEastern, "412": zoneEastern,
	"470": zoneEastern, "513": zoneEastern, "614": zoneEastern, "617": zoneEastern,
	"646": zoneEastern, "678": zoneEastern, "703": zoneEastern, "704": zoneEastern,
	"718": zoneEastern, "732": zoneEastern, "754": zoneEastern, "770": zoneEastern,
	"786": zoneEastern, "813": zoneEastern, "857": zoneEastern, "904": zoneEastern,
	"908": zoneEastern, "914": zoneEastern, "917": zoneEastern, "919": zoneEastern,
	"929": zoneEastern, "954": zoneEastern, "980": zoneEastern,
	// Alaska and Hawaii
	"907": zoneAlaska,
	"808": zoneHawaii,
}

// AreaCodeTable maps North American area codes to IANA zones.
type AreaCodeTable struct {
	codes       map[string]string
	defaultZone string

	mu    sync.RWMutex
	cache map[string]*time.Location
}

// NewAreaCodeTable builds a table from the default codes plus overrides.
// An empty defaultZone means America/New_York.
func NewAreaCodeTable(overrides map[string]string, defaultZone string) (*AreaCodeTable, error) {
	if defaultZone == "" {
		defaultZone = zoneEastern
	}
	t := &AreaCodeTable{
		codes:       make(map[string]string, len(defaultAreaCodes)+len(overrides)),
		defaultZone: defaultZone,
		cache:       make(map[string]*time.Location),
	}
	for code, zone := range defaultAreaCodes {
		t.codes[code] = zone
	}
	for code, zone := range overrides {
		t.codes[code] = zone
	}

	// Fail at construction rather than on the first call from a bad config.
	if _, err := t.location(defaultZone); err != nil {
		return nil, err
	}
	for code, zone := range overrides {
		if _, err := t.location(zone); err != nil {
			return nil, fmt.Errorf("area code %s: %w", code, err)
		}
	}
	return t, nil
}

// AreaCode extracts the three-digit area code from a phone number. It strips
// formatting and a leading country code 1. ok is false for anything that is
// not a ten-digit NANP number.
func AreaCode(phone string) (code string, ok bool) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", false
	}
	return digits[:3], true
}

// TimezoneForPhone returns the zone for the phone's area code. inferred is
// false when the default zone was used.
func (t *AreaCodeTable) TimezoneForPhone(phone string) (loc *time.Location, inferred bool) {
	zone := t.defaultZone
	if code, ok := AreaCode(phone); ok {
		if z, found := t.codes[code]; found {
			zone, inferred = z, true
		}
	}
	loc, err := t.location(zone)
	if err != nil {
		// Overrides are validated up front, so only the default is left.
		loc, _ = t.location(t.defaultZone)
		return loc, false
	}
	return loc, inferred
}

// Location loads a zone by name through the table's cache.
func (t *AreaCodeTable) Location(name string) (*time.Location, error) {
	return t.location(name)
}

// DefaultZone returns the zone used for unmapped numbers.
func (t *AreaCodeTable) DefaultZone() string { return t.defaultZone }

func (t *AreaCodeTable) location(name string) (*time.Location, error) {
	t.mu.RLock()
	loc, ok := t.cache[name]
	t.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	t.mu.Lock()
	t.cache[name] = loc
	t.mu.Unlock()
	return loc, nil
}
