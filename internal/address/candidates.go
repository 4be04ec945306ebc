package address

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Level names how coarse a candidate is compared to the full address.
type Level int

const (
	LevelExact Level = iota
	LevelNoNumber
	LevelRoad
	LevelNeighborhood
	LevelDistrict
)

func (l Level) String() string {
	switch l {
	case LevelExact:
		return "exact"
	case LevelNoNumber:
		return "no_number"
	case LevelRoad:
		return "road"
	case LevelNeighborhood:
		return "neighborhood"
	case LevelDistrict:
		return "district"
	default:
		return "unknown"
	}
}

// Candidate is one address variant submitted to the geocoding service.
type Candidate struct {
	Address string
	Level   Level
}

// Minimum rune lengths a derived candidate must exceed.
const (
	minFineLength     = 5
	minDistrictLength = 3
)

var (
	houseNumber       = regexp.MustCompile(`\s+\d+(-\d+)?(\s|$)`)
	roadToken         = regexp.MustCompile(`^(?:[^\d\s]\S*[로길가]|\d+번?[길가])$`)
	neighborhoodToken = regexp.MustCompile(`^[^\d\s]\S*[읍면동리]$`)
	districtToken     = regexp.MustCompile(`^[^\d\s]\S*[시군구]$`)
)

// Candidates derives up to five progressively coarser forms of a normalized
// address. The first element is always the address itself.
func Candidates(addr string) []Candidate {
	out := []Candidate{{Address: addr, Level: LevelExact}}
	if addr == "" {
		return out
	}

	add := func(form string, ok bool, level Level, minLen int) {
		if !ok || utf8.RuneCountInString(form) <= minLen {
			return
		}
		for _, c := range out {
			if c.Address == form {
				return
			}
		}
		out = append(out, Candidate{Address: form, Level: level})
	}

	tokens := strings.Fields(addr)

	add(withoutHouseNumber(addr), true, LevelNoNumber, minFineLength)

	road, ok := truncateAfterLast(tokens, roadToken)
	add(road, ok, LevelRoad, minFineLength)

	neighborhood, ok := truncateAfterLast(tokens, neighborhoodToken)
	add(neighborhood, ok, LevelNeighborhood, minFineLength)

	district, ok := truncateAfterLast(tokens, districtToken)
	add(district, ok, LevelDistrict, minDistrictLength)

	return out
}

func withoutHouseNumber(addr string) string {
	return strings.TrimSpace(houseNumber.ReplaceAllString(addr, " "))
}

// truncateAfterLast keeps tokens up to and including the last one matching
// pattern. It reports false when no token matches past the first position.
func truncateAfterLast(tokens []string, pattern *regexp.Regexp) (string, bool) {
	for i := len(tokens) - 1; i >= 1; i-- {
		if pattern.MatchString(tokens[i]) {
			return strings.Join(tokens[:i+1], " "), true
		}
	}

	return "", false
}
