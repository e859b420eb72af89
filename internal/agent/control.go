package agent

import (
	"encoding/json"
	"strings"

	"github.com/dyluth/warren/internal/message"
)

// Runtimes talk back to the fleet through JSON control lines embedded in
// their output stream. Two control types exist:
//
//	{"type":"artifact","artifact":{...}}     declares an artifact mid-run
//	{"type":"task_result","success":true,..} is the explicit terminator
//
// A task_result may carry a subplan instead of a result, which proposes
// decomposition. Control lines are consumed by the agent and never surfaced
// as message text.
const (
	controlTypeResult   = "task_result"
	controlTypeArtifact = "artifact"
)

// resultDecl is the parsed explicit terminator.
type resultDecl struct {
	Success *bool                    `json:"success,omitempty"`
	Summary string                   `json:"summary,omitempty"`
	Subplan *message.ProposedSubplan `json:"subplan,omitempty"`
}

// controlLine is the envelope shared by all control types.
type controlLine struct {
	Type     string                `json:"type"`
	Artifact *message.ArtifactDecl `json:"artifact,omitempty"`
	resultDecl
}

// parseControlLine extracts a control declaration from a raw runtime line.
// The JSON object may be surrounded by log prefixes; parsing starts at the
// first brace. Returns false for ordinary output and for malformed control
// JSON (which is then treated as ordinary output).
func parseControlLine(line string) (*controlLine, bool) {
	if !strings.Contains(line, `"type":"`+controlTypeResult+`"`) &&
		!strings.Contains(line, `"type": "`+controlTypeResult+`"`) &&
		!strings.Contains(line, `"type":"`+controlTypeArtifact+`"`) &&
		!strings.Contains(line, `"type": "`+controlTypeArtifact+`"`) {
		return nil, false
	}
	start := strings.IndexByte(line, '{')
	if start < 0 {
		return nil, false
	}

	var ctl controlLine
	if err := json.Unmarshal([]byte(line[start:]), &ctl); err != nil {
		return nil, false
	}
	switch ctl.Type {
	case controlTypeResult:
		return &ctl, true
	case controlTypeArtifact:
		if ctl.Artifact == nil {
			return nil, false
		}
		return &ctl, true
	}
	return nil, false
}
