package report

import (
	"encoding/json"
	"fmt"
	"runtime"

	"tangle/internal/graph"
	"tangle/internal/scoring"
	"tangle/internal/source"
	"tangle/internal/version"
)

// SARIF 2.1.0 schema types
// See: https://docs.oasis-open.org/sarif/sarif/v2.1.0/sarif-v2.1.0.html

// SARIFReport is the top-level SARIF document.
type SARIFReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SARIFRun `json:"runs"`
}

// SARIFRun represents a single analysis run.
type SARIFRun struct {
	Tool        SARIFTool         `json:"tool"`
	Results     []SARIFResult     `json:"results"`
	Invocations []SARIFInvocation `json:"invocations,omitempty"`
}

// SARIFTool describes the analysis tool.
type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

// SARIFDriver describes the primary analysis component.
type SARIFDriver struct {
	Name            string      `json:"name"`
	Version         string      `json:"version,omitempty"`
	InformationURI  string      `json:"informationUri,omitempty"`
	Rules           []SARIFRule `json:"rules,omitempty"`
	SemanticVersion string      `json:"semanticVersion,omitempty"`
}

// SARIFRule describes a rule that detected an issue.
type SARIFRule struct {
	ID                   string                  `json:"id"`
	Name                 string                  `json:"name,omitempty"`
	ShortDescription     *SARIFMessage           `json:"shortDescription,omitempty"`
	FullDescription      *SARIFMessage           `json:"fullDescription,omitempty"`
	DefaultConfiguration *SARIFRuleConfiguration `json:"defaultConfiguration,omitempty"`
	Properties           map[string]interface{}  `json:"properties,omitempty"`
}

// SARIFRuleConfiguration describes the default configuration for a rule.
type SARIFRuleConfiguration struct {
	Level string `json:"level,omitempty"` // error, warning, note, none
}

// SARIFResult represents a single finding.
type SARIFResult struct {
	RuleID       string                 `json:"ruleId"`
	RuleIndex    int                    `json:"ruleIndex"`
	Level        string                 `json:"level,omitempty"`
	Message      SARIFMessage           `json:"message"`
	Locations    []SARIFLocation        `json:"locations,omitempty"`
	Fingerprints map[string]string      `json:"fingerprints,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// SARIFMessage contains text in various formats.
type SARIFMessage struct {
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// SARIFLocation describes where a result was found.
type SARIFLocation struct {
	PhysicalLocation *SARIFPhysicalLocation `json:"physicalLocation,omitempty"`
}

// SARIFPhysicalLocation identifies a file and region.
type SARIFPhysicalLocation struct {
	ArtifactLocation *SARIFArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *SARIFRegion           `json:"region,omitempty"`
}

// SARIFArtifactLocation identifies a file.
type SARIFArtifactLocation struct {
	URI       string `json:"uri,omitempty"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

// SARIFRegion identifies a region within a file.
type SARIFRegion struct {
	StartLine int `json:"startLine,omitempty"`
	EndLine   int `json:"endLine,omitempty"`
}

// SARIFInvocation describes a single invocation of the tool.
type SARIFInvocation struct {
	ExecutionSuccessful bool                   `json:"executionSuccessful"`
	WorkingDirectory    *SARIFArtifactLocation `json:"workingDirectory,omitempty"`
	Machine             string                 `json:"machine,omitempty"`
}

// Rule ids, in the order they appear in the driver's rule table.
const (
	RuleHotspot      = "tangle/confusion-hotspot"
	RuleDrift        = "tangle/duplication-drift"
	RuleUnregistered = "tangle/unregistered-duplication"
	RuleCycle        = "tangle/dependency-cycle"
)

var sarifRules = []SARIFRule{
	{
		ID:                   RuleHotspot,
		Name:                 "ConfusionHotspot",
		ShortDescription:     &SARIFMessage{Text: "File is structurally hard to follow"},
		FullDescription:      &SARIFMessage{Text: "The file's weighted complexity, indirection and context-switch score is above the configured threshold."},
		DefaultConfiguration: &SARIFRuleConfiguration{Level: "warning"},
		Properties:           map[string]interface{}{"tags": []string{"maintainability", "complexity"}},
	},
	{
		ID:                   RuleDrift,
		Name:                 "DuplicationDrift",
		ShortDescription:     &SARIFMessage{Text: "Registered duplicate block has diverged"},
		FullDescription:      &SARIFMessage{Text: "A copy of a DUPLICATED_BLOCK differs from its siblings or from the approved baseline."},
		DefaultConfiguration: &SARIFRuleConfiguration{Level: "error"},
		Properties:           map[string]interface{}{"tags": []string{"maintainability", "duplication"}},
	},
	{
		ID:                   RuleUnregistered,
		Name:                 "UnregisteredDuplication",
		ShortDescription:     &SARIFMessage{Text: "Near-duplicate code is not registered"},
		FullDescription:      &SARIFMessage{Text: "Two spans are near-identical but neither is declared as an intentional duplicate."},
		DefaultConfiguration: &SARIFRuleConfiguration{Level: "note"},
		Properties:           map[string]interface{}{"tags": []string{"maintainability", "duplication"}},
	},
	{
		ID:                   RuleCycle,
		Name:                 "DependencyCycle",
		ShortDescription:     &SARIFMessage{Text: "Files depend on each other in a cycle"},
		FullDescription:      &SARIFMessage{Text: "The import or call graph contains a cycle through these nodes."},
		DefaultConfiguration: &SARIFRuleConfiguration{Level: "warning"},
		Properties:           map[string]interface{}{"tags": []string{"architecture"}},
	},
}

func ruleIndex(id string) int {
	for i, r := range sarifRules {
		if r.ID == id {
			return i
		}
	}
	return 0
}

// BuildSARIF converts the report into a SARIF log.
func BuildSARIF(r *Report) SARIFReport {
	results := make([]SARIFResult, 0, len(r.Hotspots)+len(r.Drift)+len(r.Unregistered)+len(r.Cycles))

	for _, h := range r.Hotspots {
		text := fmt.Sprintf("Confusion score %s (%s)", FormatFloat(h.Value), h.Severity)
		if len(h.Issues) > 0 {
			text += ": " + h.Issues[0]
		}
		results = append(results, SARIFResult{
			RuleID:       RuleHotspot,
			RuleIndex:    ruleIndex(RuleHotspot),
			Level:        severityToSARIFLevel(h.Severity),
			Message:      SARIFMessage{Text: text},
			Locations:    []SARIFLocation{fileLocation(h.Path, 0, 0)},
			Fingerprints: map[string]string{"tangle/v1": generateFingerprint(RuleHotspot, h.Path)},
			Properties: map[string]interface{}{
				"score":           RoundFloat(h.Value),
				"complexity":      h.Metrics.Complexity,
				"indirection":     h.Metrics.Indirection,
				"contextSwitches": h.Metrics.ContextSwitches,
				"lines":           h.Metrics.Lines,
			},
		})
	}

	for _, f := range r.Drift {
		level := "note"
		if f.ExceedsTolerance {
			level = "error"
		}
		against := f.Other.String()
		if f.AgainstBaseline {
			against = "the approved baseline"
		}
		locations := []SARIFLocation{fileLocation(f.Base.Path, f.Base.StartLine, f.Base.EndLine)}
		if !f.AgainstBaseline {
			locations = append(locations, fileLocation(f.Other.Path, f.Other.StartLine, f.Other.EndLine))
		}
		results = append(results, SARIFResult{
			RuleID:    RuleDrift,
			RuleIndex: ruleIndex(RuleDrift),
			Level:     level,
			Message: SARIFMessage{
				Text: fmt.Sprintf("Block %s:%s differs from %s (similarity %s, tolerance %s)",
					f.ID, f.Version, against, percent(f.Similarity), f.Tolerance),
			},
			Locations:    locations,
			Fingerprints: map[string]string{"tangle/v1": generateFingerprint(RuleDrift, f.ID, f.Base.String(), f.Other.String())},
			Properties: map[string]interface{}{
				"similarity":     RoundFloat(f.Similarity),
				"recommendation": f.Recommendation,
			},
		})
	}

	for _, u := range r.Unregistered {
		results = append(results, SARIFResult{
			RuleID:    RuleUnregistered,
			RuleIndex: ruleIndex(RuleUnregistered),
			Level:     "note",
			Message: SARIFMessage{
				Text: fmt.Sprintf("Near-duplicate of %s (%s similarity %s)", u.B.Location.String(), u.Metric, percent(u.Similarity)),
			},
			Locations: []SARIFLocation{
				fileLocation(u.A.Location.Path, u.A.Location.StartLine, u.A.Location.EndLine),
				fileLocation(u.B.Location.Path, u.B.Location.StartLine, u.B.Location.EndLine),
			},
			Fingerprints: map[string]string{"tangle/v1": generateFingerprint(RuleUnregistered, u.A.Location.String(), u.B.Location.String())},
		})
	}

	for _, c := range r.Cycles {
		if len(c.Nodes) == 0 {
			continue
		}
		results = append(results, SARIFResult{
			RuleID:       RuleCycle,
			RuleIndex:    ruleIndex(RuleCycle),
			Level:        "warning",
			Message:      SARIFMessage{Text: "Dependency cycle: " + c.String()},
			Locations:    []SARIFLocation{fileLocation(graph.FileOfKey(c.Nodes[0]), 0, 0)},
			Fingerprints: map[string]string{"tangle/v1": generateFingerprint(RuleCycle, c.String())},
		})
	}

	return SARIFReport{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []SARIFRun{
			{
				Tool: SARIFTool{
					Driver: SARIFDriver{
						Name:            version.ToolName,
						Version:         r.Version,
						SemanticVersion: r.Version,
						InformationURI:  version.InformationURI,
						Rules:           sarifRules,
					},
				},
				Results: results,
				Invocations: []SARIFInvocation{
					{
						ExecutionSuccessful: true,
						WorkingDirectory:    &SARIFArtifactLocation{URI: r.Root},
						Machine:             runtime.GOOS + "/" + runtime.GOARCH,
					},
				},
			},
		},
	}
}

func formatSARIF(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(BuildSARIF(r), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SARIF: %w", err)
	}
	return data, nil
}

func fileLocation(path string, start, end int) SARIFLocation {
	loc := SARIFLocation{
		PhysicalLocation: &SARIFPhysicalLocation{
			ArtifactLocation: &SARIFArtifactLocation{URI: path, URIBaseID: "%SRCROOT%"},
		},
	}
	if start > 0 {
		loc.PhysicalLocation.Region = &SARIFRegion{StartLine: start, EndLine: end}
	}
	return loc
}

func severityToSARIFLevel(s scoring.Severity) string {
	if s == scoring.SeverityCritical {
		return "error"
	}
	return "warning"
}

// generateFingerprint creates a stable fingerprint for deduplication.
func generateFingerprint(parts ...string) string {
	data := ""
	for _, p := range parts {
		data += p + "\x00"
	}
	return source.Hash([]byte(data))[:16]
}
