package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"

	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
)

const maxDetailedDiscrepancies = 15

// AnalysisContext is the JSON document handed to the agent.
type AnalysisContext struct {
	TotalDiscrepancies int                 `json:"total_discrepancies"`
	HighSeverity       int                 `json:"high_severity"`
	MediumSeverity     int                 `json:"medium_severity"`
	LowSeverity        int                 `json:"low_severity"`
	Unresolved         int                 `json:"unresolved"`
	Details            []DiscrepancyDetail `json:"discrepancy_details"`
	Cauldrons          []CauldronContext   `json:"cauldron_context"`
}

type DiscrepancyDetail struct {
	ID          string             `json:"id"`
	Cauldron    string             `json:"cauldron"`
	Date        string             `json:"date"`
	Courier     string             `json:"courier,omitempty"`
	Expected    float64            `json:"expected"`
	Actual      float64            `json:"actual"`
	Variance    float64            `json:"variance"`
	Severity    telemetry.Severity `json:"severity"`
	Resolved    bool               `json:"resolved"`
	Description string             `json:"description"`
}

type CauldronContext struct {
	Name          string           `json:"name"`
	CurrentVolume float64          `json:"current_volume"`
	MaxVolume     float64          `json:"max_volume"`
	FillRate      float64          `json:"fill_rate"`
	Status        telemetry.Status `json:"status"`
}

// BuildContext packages discrepancies and readings for the agent prompt.
func BuildContext(ds []telemetry.Discrepancy, readings []telemetry.Reading) AnalysisContext {
	counts := telemetry.SeverityCounts(ds)
	ac := AnalysisContext{
		TotalDiscrepancies: counts.Total,
		HighSeverity:       counts.High,
		MediumSeverity:     counts.Medium,
		LowSeverity:        counts.Low,
		Unresolved:         counts.Unresolved,
		Details:            make([]DiscrepancyDetail, 0, min(len(ds), maxDetailedDiscrepancies)),
		Cauldrons:          make([]CauldronContext, 0, len(readings)),
	}
	for i, d := range ds {
		if i == maxDetailedDiscrepancies {
			break
		}
		ac.Details = append(ac.Details, DiscrepancyDetail{
			ID:          d.ID,
			Cauldron:    d.CauldronName,
			Date:        d.Date,
			Courier:     d.Courier,
			Expected:    d.ExpectedVolume,
			Actual:      d.ActualVolume,
			Variance:    d.Variance,
			Severity:    d.Severity,
			Resolved:    d.Resolved,
			Description: d.Description,
		})
	}
	for _, r := range readings {
		ac.Cauldrons = append(ac.Cauldrons, CauldronContext{
			Name:          r.Name,
			CurrentVolume: r.CurrentVolume,
			MaxVolume:     r.MaxVolume,
			FillRate:      r.FillRate,
			Status:        r.Status,
		})
	}
	return ac
}

// Report is the outcome of one agent analysis.
type Report struct {
	ID           string    `json:"id"`
	Analysis     string    `json:"analysis"`
	ResolvedIDs  []string  `json:"resolvedDiscrepancies"`
	ActionsCount int       `json:"actionsCount"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Agent produces discrepancy analysis reports.
type Agent struct {
	model       Model
	modelName   string
	temperature float64
	maxTokens   int
	recorder    Recorder
	now         func() time.Time
}

func NewAgent(m Model, cfg config.AssistantConfig) *Agent {
	return &Agent{
		model:       m,
		modelName:   cfg.Model,
		temperature: cfg.AgentTemperature,
		maxTokens:   cfg.AgentMaxTokens,
		now:         time.Now,
	}
}

func (a *Agent) SetRecorder(r Recorder) { a.recorder = r }

// Analyze asks the model for a report and extracts the resolutions it declares.
func (a *Agent) Analyze(ctx context.Context, ds []telemetry.Discrepancy, readings []telemetry.Reading) (*Report, error) {
	payload, err := json.MarshalIndent(BuildContext(ds, readings), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal analysis context: %w", err)
	}

	temp := a.temperature
	resp, err := a.model.Complete(ctx, model.Request{
		Messages: []model.Message{{
			Role:    "user",
			Content: fmt.Sprintf(agentUserPrompt, payload),
		}},
		System:      AgentSystemPrompt,
		Model:       a.modelName,
		MaxTokens:   a.maxTokens,
		Temperature: &temp,
	})
	reply, err := replyText(resp, err)
	observe(a.recorder, KindAgent, err)
	if err != nil {
		log.Printf("[assistant] agent error: %v", err)
		return nil, err
	}

	narrative, ids := ExtractResolutions(reply, ds)
	return &Report{
		ID:           uuid.NewString(),
		Analysis:     narrative,
		ResolvedIDs:  ids,
		ActionsCount: len(ids),
		GeneratedAt:  a.now().UTC(),
	}, nil
}

var bareObject = regexp.MustCompile(`(?s)\{[^{}]*"resolved"[^{}]*\}`)

type resolutionBlock struct {
	Resolved []string `json:"resolved"`
}

// ExtractResolutions finds the last JSON block in reply carrying a
// "resolved" list. It returns the reply without that block and the listed
// ids that name known, unresolved discrepancies, deduplicated in order.
func ExtractResolutions(reply string, ds []telemetry.Discrepancy) (string, []string) {
	span, ids, ok := lastResolutionBlock(reply)
	if !ok {
		return strings.TrimSpace(reply), []string{}
	}
	narrative := strings.TrimSpace(reply[:span[0]] + reply[span[1]:])

	open := make(map[string]bool, len(ds))
	for _, d := range ds {
		if !d.Resolved {
			open[d.ID] = true
		}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !open[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return narrative, out
}

func lastResolutionBlock(reply string) ([]int, []string, bool) {
	fenced := fencedBlocks(reply)
	var bare [][]int
	for _, m := range bareObject.FindAllStringIndex(reply, -1) {
		if !insideAny(m, fenced) {
			bare = append(bare, []int{m[0], m[1], m[0], m[1]})
		}
	}

	for _, group := range [][][]int{fenced, bare} {
		for i := len(group) - 1; i >= 0; i-- {
			m := group[i]
			var block resolutionBlock
			if err := json.Unmarshal([]byte(strings.TrimSpace(reply[m[2]:m[3]])), &block); err != nil || block.Resolved == nil {
				continue
			}
			return m[:2], block.Resolved, true
		}
	}
	return nil, nil, false
}

// fencedBlocks pairs markdown code fences line by line and returns the
// untagged or json-tagged blocks as {start, end, bodyStart, bodyEnd}.
func fencedBlocks(reply string) [][]int {
	var (
		out       [][]int
		open      = -1
		bodyStart int
		isJSON    bool
	)
	for pos := 0; pos < len(reply); {
		lineEnd, next := len(reply), len(reply)
		if i := strings.IndexByte(reply[pos:], '\n'); i >= 0 {
			lineEnd, next = pos+i, pos+i+1
		}
		raw := reply[pos:lineEnd]
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			fence := pos + strings.Index(raw, "```")
			switch {
			case open < 0:
				info := strings.TrimSpace(strings.TrimLeft(line, "`"))
				open, bodyStart = fence, next
				isJSON = info == "" || strings.EqualFold(info, "json")
			case strings.Trim(line, "`") == "":
				if isJSON {
					out = append(out, []int{open, fence + len(line), bodyStart, pos})
				}
				open = -1
			}
		}
		pos = next
	}
	return out
}

func insideAny(span []int, blocks [][]int) bool {
	for _, b := range blocks {
		if span[0] >= b[0] && span[1] <= b[1] {
			return true
		}
	}
	return false
}
