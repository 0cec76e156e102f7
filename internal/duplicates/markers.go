package duplicates

import (
	"fmt"
	"regexp"
	"strings"
)

const commentLead = `(?:#|//|--|;|/\*|<!--)\s*`

var (
	startMarker     = regexp.MustCompile(commentLead + `DUPLICATED_BLOCK:\s*([\w.\-]+)(?::([\w.\-]+))?`)
	endMarker       = regexp.MustCompile(commentLead + `END_DUPLICATED_BLOCK:\s*([\w.\-]+)`)
	toleranceMarker = regexp.MustCompile(commentLead + `DRIFT_TOLERANCE:\s*(\w+)`)
)

// ScanMarkers extracts marked blocks from one file. Content between the
// markers is kept verbatim, minus any tolerance annotation. A start marker
// without a matching end produces a warning and no block.
func ScanMarkers(path string, content []byte) ([]Block, []Warning) {
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	var blocks []Block
	var warnings []Warning

	for i := 0; i < len(lines); i++ {
		if endMarker.MatchString(lines[i]) {
			continue
		}
		m := startMarker.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		id, version := m[1], m[2]
		if version == "" {
			warnings = append(warnings, Warning{Path: path, Line: i + 1, Message: fmt.Sprintf("block %s has no version", id)})
		}

		end := -1
		for j := i + 1; j < len(lines); j++ {
			if em := endMarker.FindStringSubmatch(lines[j]); em != nil && strings.EqualFold(em[1], id) {
				end = j
				break
			}
		}
		if end < 0 {
			warnings = append(warnings, Warning{Path: path, Line: i + 1, Message: fmt.Sprintf("block %s has no END_DUPLICATED_BLOCK marker", id)})
			continue
		}

		tolerance := ""
		var body []string
		for j := i + 1; j < end; j++ {
			if tm := toleranceMarker.FindStringSubmatch(lines[j]); tm != nil && j <= i+2 {
				tolerance = tm[1]
				continue
			}
			body = append(body, lines[j])
		}
		if tolerance == "" {
			for j := i - 2; j < i; j++ {
				if j < 0 {
					continue
				}
				if tm := toleranceMarker.FindStringSubmatch(lines[j]); tm != nil {
					tolerance = tm[1]
				}
			}
		}

		blocks = append(blocks, Block{
			ID:        id,
			Version:   version,
			Tolerance: strings.ToLower(tolerance),
			Location:  Location{Path: path, StartLine: i + 1, EndLine: end + 1},
			Content:   strings.Join(body, "\n"),
		})
		i = end
	}
	return blocks, warnings
}
